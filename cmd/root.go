// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

var (
	cfgMu     sync.Mutex
	loadedCfg *config.Config
)

// currentConfig returns a copy of the configuration resolved during command
// setup, so subcommands can tweak it without affecting each other.
func currentConfig() *config.Config {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	if loadedCfg == nil {
		return config.Default()
	}
	cfg := *loadedCfg
	return &cfg
}

// NewRootCommand builds the base command with all subcommands attached. Each
// invocation gets a fresh instance so flag state never leaks between runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "webpilot",
		Short:   "Webpilot drives an embedded browser page and intercepts its traffic.",
		Version: Version,
		// Usage spam on runtime errors helps nobody.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to a usable logger so the failure itself is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "webpilot"})
				return fmt.Errorf("loading configuration: %w", err)
			}

			cfgMu.Lock()
			loadedCfg = cfg
			cfgMu.Unlock()

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting webpilot.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./webpilot.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newAuthCmd())
	return rootCmd
}

// Execute runs the root command under the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
