package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"emcp-client/internal/app"
	"emcp-client/internal/clients"
	"emcp-client/internal/services"
	"emcp-client/internal/wallet"

	"github.com/spf13/cobra"
)

// doctorCmd checks every configured dependency
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the marketplace, session, wallet and event connections",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name   string
	detail string
	err    error
	skip   bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "🔍 Checking emcp configuration...")

		results := []checkResult{
			checkMarketplace(ctx, c),
			checkSession(ctx, c),
			checkWallet(ctx, c),
			checkKMS(ctx, c),
			checkEvents(c),
		}
		if failed := printChecks(out, results); failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	})
}

func checkMarketplace(ctx context.Context, c *app.ServiceContainer) checkResult {
	return checkResult{name: "marketplace", detail: c.Marketplace.BaseURL(), err: c.Marketplace.Health(ctx)}
}

func checkSession(ctx context.Context, c *app.ServiceContainer) checkResult {
	result := checkResult{name: "session"}
	sess, err := c.Sessions.WhoAmI(ctx)
	switch {
	case errors.Is(err, services.ErrMissingCredential):
		result.detail = "not logged in (run emcp login)"
		result.skip = true
	case err != nil:
		result.err = err
	default:
		result.detail = sess.Email
	}
	return result
}

func checkWallet(ctx context.Context, c *app.ServiceContainer) checkResult {
	result := checkResult{name: "wallet"}
	if !c.Config.Wallet.Enabled {
		result.detail = "disabled"
		result.skip = true
		return result
	}
	if !c.HasWallet() {
		result.err = errors.New("enabled but failed to connect (see log)")
		return result
	}
	balance, err := c.Wallet.Balance(ctx)
	if err != nil {
		result.err = err
		return result
	}
	result.detail = fmt.Sprintf("%s holds %s %s", c.Wallet.Address().Hex(), wallet.FormatWei(balance), c.Wallet.NativeCurrency())
	return result
}

func checkKMS(ctx context.Context, c *app.ServiceContainer) checkResult {
	result := checkResult{name: "kms"}
	if !c.Config.KMS.Enabled {
		result.detail = "disabled"
		result.skip = true
		return result
	}
	result.detail = c.Config.KMS.ServiceURL
	result.err = clients.NewKMSClient(c.Config.KMS).HealthCheck(ctx)
	return result
}

func checkEvents(c *app.ServiceContainer) checkResult {
	result := checkResult{name: "nats"}
	if !c.Config.NATS.Enabled {
		result.detail = "disabled"
		result.skip = true
		return result
	}
	if c.NATSClient == nil {
		result.err = errors.New("enabled but failed to connect (see log)")
		return result
	}
	result.detail = c.NATSClient.GetConnection().ConnectedUrl()
	result.err = c.NATSClient.Flush(5 * time.Second)
	return result
}

// printChecks writes one line per check and returns the number of failures
func printChecks(out io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			fmt.Fprintf(out, "❌ %-12s %s %v\n", r.name, r.detail, r.err)
		case r.skip:
			fmt.Fprintf(out, "➖ %-12s %s\n", r.name, r.detail)
		default:
			fmt.Fprintf(out, "✅ %-12s %s\n", r.name, r.detail)
		}
	}
	return failed
}
