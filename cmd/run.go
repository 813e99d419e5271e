package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/gateway"
	"github.com/bnema/waybridge/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command [args...]]",
	Short: "Run the bridge",
	Long: `Run the bridge against the current Wayland session. Waybridge serves a
Wayland display for the guest X server to render through and manages the X
windows it shows.

A command given after -- is spawned with DISPLAY and WAYLAND_DISPLAY
pointed at the bridge; the bridge exits when it does.`,
	RunE: runBridge,
}

func init() {
	runCmd.Flags().Float64("scale", 0, "Global scale factor, 0 follows the host output")
	runCmd.Flags().String("guest-display", "", "Wayland socket name served to guests")
	runCmd.Flags().String("x-display", "", "X display to manage, empty uses DISPLAY")
	runCmd.Flags().Bool("no-clipboard", false, "Disable the clipboard bridge")

	// Bind flags to viper
	viper.BindPFlag("display.scale", runCmd.Flags().Lookup("scale"))
	viper.BindPFlag("sockets.guest_display", runCmd.Flags().Lookup("guest-display"))
	viper.BindPFlag("sockets.x_display", runCmd.Flags().Lookup("x-display"))

	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	if err := ensureConfigFile(); err != nil {
		return err
	}

	cfg := config.Get()
	if off, _ := cmd.Flags().GetBool("no-clipboard"); off {
		cfg.Selection.Enabled = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	gw := gateway.New(cfg, Version)
	return gw.Run(ctx, args)
}

// ensureConfigFile creates the default config on first run so users have a
// file to edit.
func ensureConfigFile() error {
	path := config.GetConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Infof("No config file found. Creating default config at %s", path)
		if err := config.Save(); err != nil {
			return err
		}
	}
	return nil
}
