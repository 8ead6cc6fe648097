package main

import (
	"context"
	"errors"
	"io"

	"emcp-client/internal/app"
	"emcp-client/internal/config"
	"emcp-client/internal/models"
	"emcp-client/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var invokeName string

// invokeCmd runs a tool, paying when the marketplace asks for it
var invokeCmd = &cobra.Command{
	Use:   "invoke <tool-id>",
	Short: "Run a marketplace tool",
	Long: `Run a marketplace tool with the stored session.

When the tool answers with a payment challenge you are asked to confirm
(see payments.confirmMode). Approved payments go through the configured
wallet and the call is retried once with the transaction as proof.`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVarP(&invokeName, "name", "n", "", "Display name used in messages")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		token, err := c.Sessions.Token(ctx)
		if err != nil && !errors.Is(err, services.ErrMissingCredential) {
			return err
		}

		confirmer, err := terminalConfirmer(c.Config.Payments, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		invoker := c.NewInvocationService(confirmer, terminalNotifier(cmd.OutOrStdout()))

		_, err = invoker.Invoke(ctx, models.InvocationRequest{
			ToolID:     args[0],
			ToolName:   invokeName,
			Credential: token,
		})
		if services.KindOf(err) != "" {
			return reportedError{err}
		}
		return err
	})
}

// terminalConfirmer asks on the terminal, applying the configured policy
func terminalConfirmer(payments config.PaymentsConfig, in io.Reader, out io.Writer) (services.Confirmer, error) {
	prompt := services.NewPromptConfirmer(in, out)
	code := func(ctx context.Context) (string, error) {
		return prompt.Prompt(ctx, "Authenticator code: ")
	}
	return services.BuildConfirmer(payments, prompt, code, services.NewWriterNotifier(out))
}

// terminalNotifier prints notifications; with debug logging they are logged as well
func terminalNotifier(out io.Writer) services.Notifier {
	notifier := services.MultiNotifier{services.NewWriterNotifier(out)}
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		notifier = append(notifier, services.LogNotifier{})
	}
	return notifier
}
