package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/timetracker-dev/tt/internal/auth"
	"github.com/timetracker-dev/tt/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save an API token for queued deliveries",
	Long: `Store an API token in the local database.

The token is captured with each queued entry, so entries composed while
logged in deliver with the credential that was current at compose time.

Without --token the command prompts interactively, or reads the token
from stdin when piped:

  tt login --token eyJhbGci...
  cat token.txt | tt login`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = promptToken()
		}

		eng, store, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		tokens := auth.NewTokenStore(store)
		if err := tokens.Save(ctx, token); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Logged in\n", ui.RenderPass("✓"))
		if exp, err := auth.Expiry(token); err == nil && !exp.IsZero() {
			if exp.Before(time.Now()) {
				fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf("token expired %s", exp.Local().Format(time.RFC822))))
			} else {
				fmt.Printf("   token expires %s\n", exp.Local().Format(time.RFC822))
			}
		}
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved API token",
	Run: func(cmd *cobra.Command, args []string) {
		eng, store, _ := openEngine(nil)
		defer eng.Close()

		if err := auth.NewTokenStore(store).Clear(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

// promptToken asks for the token interactively, or reads stdin when the
// input is not a terminal. Exits when no token can be obtained.
func promptToken() string {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading token from stdin: %v\n", err)
			os.Exit(1)
		}
		return strings.TrimSpace(string(data))
	}

	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API token").
				Description("Paste the token from your account settings page.").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(token)
}

func init() {
	loginCmd.Flags().String("token", "", "API token (prompts when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
