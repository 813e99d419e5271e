package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/ipc"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusUpStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of a running bridge",
	Long:  `Query the control socket of a running waybridge instance for its version, uptime, window count and display configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := ipc.NewClient(config.ControlSocketPath())
		status, err := client.GetStatus()
		if err != nil {
			return err
		}

		var out strings.Builder
		out.WriteString(statusTitleStyle.Render("WAYBRIDGE"))
		out.WriteString(" ")
		out.WriteString(statusUpStyle.Render("● running"))
		out.WriteString("\n\n")

		row := func(label, value string) {
			out.WriteString(statusLabelStyle.Render(fmt.Sprintf("  %-14s", label)))
			out.WriteString(statusValueStyle.Render(value))
			out.WriteString("\n")
		}
		row("Version", status.Version)
		row("Uptime", (time.Duration(status.UptimeSeconds) * time.Second).String())
		row("Windows", fmt.Sprintf("%d", status.Windows))
		row("Guest display", status.GuestDisplay)
		row("Host display", status.HostDisplay)
		row("Scale", fmt.Sprintf("%.2f", status.Scale))

		fmt.Print(out.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
