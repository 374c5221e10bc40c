package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/oauth"
)

var (
	gmailHeadless bool
	gmailForce    bool
)

var setupGmailCmd = &cobra.Command{
	Use:   "setup-gmail",
	Short: "Authorize projmail to read your Gmail inbox",
	Long: `Authorize projmail to read Gmail and clear the UNREAD label on messages
it has ingested.

By default a browser window opens for the OAuth consent screen. Use
--headless on machines without a browser to authorize with a device code
instead.

Requires [oauth] client_secrets in config.toml. On success the token is saved
under the tokens directory and [gmail] enabled is turned on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
		}

		if mgr.HasToken() && !gmailForce {
			fmt.Printf("Gmail is already authorized (%s).\n", mgr.TokenPath())
			fmt.Println("Use --force to authorize again.")
			return enableGmail()
		}
		if gmailForce {
			if err := mgr.DeleteToken(); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
		}

		if err := mgr.Authorize(cmd.Context(), gmailHeadless); err != nil {
			return fmt.Errorf("authorize gmail: %w", err)
		}
		fmt.Printf("Token saved to %s\n", mgr.TokenPath())
		return enableGmail()
	},
}

// enableGmail turns on the Gmail source in config.toml.
func enableGmail() error {
	if cfg.Gmail.Enabled {
		return nil
	}
	cfg.Gmail.Enabled = true
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Enabled Gmail in %s\n", cfg.ConfigFilePath())
	return nil
}

func init() {
	setupGmailCmd.Flags().BoolVar(&gmailHeadless, "headless", false, "Authorize with a device code instead of a browser")
	setupGmailCmd.Flags().BoolVar(&gmailForce, "force", false, "Discard the saved token and authorize again")
	rootCmd.AddCommand(setupGmailCmd)
}
