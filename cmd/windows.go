package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/ipc"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List the windows a running bridge manages",
	Long:  `List every X window the running bridge knows about, with its title, class, lifecycle state and guest geometry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ipc.NewClient(config.ControlSocketPath())
		infos, err := client.ListWindows()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No windows")
			return nil
		}

		rows := make([][]string, 0, len(infos))
		for _, w := range infos {
			rows = append(rows, []string{
				fmt.Sprintf("0x%x", w.ID),
				w.Title,
				w.Class,
				w.State,
				fmt.Sprintf("%dx%d%+d%+d", w.Geometry.Width, w.Geometry.Height, w.Geometry.X, w.Geometry.Y),
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == 0 {
					return lipgloss.NewStyle().Bold(true).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			Headers("ID", "TITLE", "CLASS", "STATE", "GEOMETRY").
			Rows(rows...)

		fmt.Println(t)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(windowsCmd)
}
