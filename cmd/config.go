package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage waybridge configuration",
	Long:  `Manage waybridge configuration including display scaling, shell integration and socket paths.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		logger.Infof("Config file: %s\n", config.GetConfigPath())

		logger.Info("[Display]")
		logger.Infof("  Scale: %g (0 follows the host output)", cfg.Display.Scale)
		logger.Infof("  Direct Scale: %g x %g", cfg.Display.DirectScaleX, cfg.Display.DirectScaleY)
		logger.Infof("  Center New Windows: %v", cfg.Display.CenterNewWindows)

		logger.Info("\n[Shell]")
		logger.Infof("  App ID Prefix: %q", cfg.Shell.AppIDPrefix)
		logger.Infof("  Title Prefix: %q", cfg.Shell.TitlePrefix)
		logger.Infof("  Decorations: %v", cfg.Shell.Decorations)

		logger.Info("\n[Selection]")
		logger.Infof("  Enabled: %v", cfg.Selection.Enabled)
		logger.Infof("  INCR Chunk Size: %d bytes", cfg.Selection.IncrChunkSize)

		logger.Info("\n[Sockets]")
		logger.Infof("  Guest Display: %s", cfg.Sockets.GuestDisplay)
		if cfg.Sockets.XDisplay != "" {
			logger.Infof("  X Display: %s", cfg.Sockets.XDisplay)
		} else {
			logger.Info("  X Display: (from DISPLAY)")
		}
		logger.Infof("  Control Path: %s", config.ControlSocketPath())

		logger.Info("\n[Logging]")
		if cfg.Logging.LogLevel != "" {
			logger.Infof("  Log Level: %s", cfg.Logging.LogLevel)
		} else {
			logger.Info("  Log Level: (from LOG_LEVEL)")
		}

		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save current configuration to file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}
