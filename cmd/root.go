package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "waybridge",
		Short: "Waybridge - X11 windows on a Wayland compositor",
		Long: `Waybridge runs X11 applications against a Wayland compositor. It serves a
Wayland display for Xwayland to render through, acts as the window manager
of the X windows it shows, and bridges clipboard selections between the
two worlds.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			if lvl := config.Get().Logging.LogLevel; lvl != "" {
				logger.SetLevel(lvl)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
}
