package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"emcp-client/internal/app"
	"emcp-client/internal/services"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

// loginCmd stores a marketplace session
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the marketplace",
	Long: `Log in to the marketplace and store the access token in the configured
credential store. Missing values are prompted for; the password can also be
supplied with EMCP_PASSWORD.`,
	RunE: runLogin,
}

// logoutCmd removes the stored session
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored marketplace session",
	RunE:  runLogout,
}

// whoamiCmd shows the stored session
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in account",
	RunE:  runWhoAmI,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		prompt := services.NewPromptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			answer, err := prompt.Prompt(ctx, "Email: ")
			if err != nil {
				return err
			}
			email = answer
		}
		password := loginPassword
		if password == "" {
			password = os.Getenv("EMCP_PASSWORD")
		}
		if password == "" {
			answer, err := prompt.Prompt(ctx, "Password: ")
			if err != nil {
				return err
			}
			password = answer
		}

		sess, err := c.Sessions.Login(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Logged in as %s (%s)\n", sess.Email, sess.BaseURL)
		return nil
	})
}

func runLogout(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		if err := c.Sessions.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	})
}

func runWhoAmI(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *app.ServiceContainer) error {
		sess, err := c.Sessions.WhoAmI(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Email:       %s\n", sess.Email)
		fmt.Fprintf(out, "Marketplace: %s\n", sess.BaseURL)
		if sess.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires:     %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	})
}
