package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"emcp-client/internal/app"
	"emcp-client/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "emcp",
	Short: "eMCP marketplace client",
	Long: `emcp browses the eMCP tool marketplace and runs its tools.

Paid tools answer with a payment challenge; emcp asks you to confirm,
pays through the configured wallet and retries once with the proof.

Run 'emcp serve' to expose the same actions to a local browser UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		cfg.ConfigureLogging(logrus.StandardLogger())
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config.local.yaml or config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(totpSecretCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// reportedError an error the user has already seen as a notification
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// withContainer runs fn against a fully wired container and releases it afterwards
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.ServiceContainer) error) error {
	ctx := cmd.Context()
	c, err := app.InitializeContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Cleanup()
	return fn(ctx, c)
}
