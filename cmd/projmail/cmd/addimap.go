package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/config"
	imapclient "github.com/wesm/projmail/internal/imap"
	"github.com/wesm/projmail/internal/triage"
)

var (
	imapName     string
	imapHost     string
	imapPort     int
	imapUsername string
	imapMailbox  string
	imapNoTLS    bool
	imapSTARTTLS bool
	imapSkipTest bool
)

var addIMAPCmd = &cobra.Command{
	Use:   "add-imap",
	Short: "Add an IMAP account",
	Long: `Add an IMAP email account using username/password authentication.

By default, connects using implicit TLS (IMAPS, port 993).
Use --starttls for STARTTLS upgrade on port 143.
Use --no-tls for a plain unencrypted connection (not recommended).

You will be prompted for the password. It is stored in the tokens directory
with owner-only permissions, never in config.toml. When stdin is not a
terminal the password is read from the first line of stdin.

Examples:
  projmail add-imap --host imap.example.com --username user@example.com
  projmail add-imap --name work --host mail.example.com --username me --mailbox Projects
  projmail add-imap --host mail.example.com --username user@example.com --starttls`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if imapHost == "" {
			return fmt.Errorf("--host is required")
		}
		if imapUsername == "" {
			return fmt.Errorf("--username is required")
		}

		acct := config.IMAPConfig{
			Name:     imapName,
			Host:     imapHost,
			Port:     imapPort,
			TLS:      !imapNoTLS && !imapSTARTTLS,
			STARTTLS: imapSTARTTLS,
			Username: imapUsername,
			Mailbox:  imapMailbox,
			Enabled:  true,
		}
		if err := acct.Validate(); err != nil {
			return err
		}
		clientCfg := &imapclient.Config{
			Host:     acct.Host,
			Port:     acct.Port,
			TLS:      acct.TLS,
			STARTTLS: acct.STARTTLS,
			Username: acct.Username,
		}

		password, err := readPassword(cmd.Context(), fmt.Sprintf("Password for %s@%s", imapUsername, imapHost))
		if err != nil {
			return err
		}

		if !imapSkipTest {
			mailbox := acct.Mailbox
			fmt.Printf("Testing connection to %s...\n", clientCfg.Addr())
			client := imapclient.NewClient(clientCfg, password, imapclient.WithLogger(logger))
			unseen, err := client.FetchUnseen(cmd.Context(), mailbox, 1)
			_ = client.Close()
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Printf("Connected successfully (%s has unread mail: %t)\n", mailbox, len(unseen) > 0)
		}

		identifier := clientCfg.Identifier()
		if err := imapclient.SaveCredentials(cfg.TokensDir(), identifier, password); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		if err := cfg.AddIMAP(acct); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}


		fmt.Printf("\nIMAP account added successfully!\n")
		fmt.Printf("  Source:     imap:%s\n", acct.Name)
		fmt.Printf("  Identifier: %s\n", identifier)
		fmt.Println()
		fmt.Println("You can now run:")
		fmt.Printf("  projmail fetch --source imap:%s\n", acct.Name)
		return nil
	},
}

// readPassword prompts for a password without echo on a terminal, and
// reads one line from stdin otherwise. Passwords are never taken from
// flags to keep them out of shell history and process listings.
func readPassword(ctx context.Context, title string) (string, error) {
	var password string
	if triage.IsTerminal(os.Stdin.Fd()) {
		input := huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Value(&password)
		if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return "", context.Canceled
			}
			return "", fmt.Errorf("read password: %w", err)
		}
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return password, nil
}

func init() {
	addIMAPCmd.Flags().StringVar(&imapName, "name", "", "Account name used in source names (default: username@host)")
	addIMAPCmd.Flags().StringVar(&imapHost, "host", "", "IMAP server hostname (required)")
	addIMAPCmd.Flags().IntVar(&imapPort, "port", 0, "IMAP server port (default: 993 for TLS, 143 otherwise)")
	addIMAPCmd.Flags().StringVar(&imapUsername, "username", "", "IMAP username / email address (required)")
	addIMAPCmd.Flags().StringVar(&imapMailbox, "mailbox", "", "Mailbox to read (default: INBOX)")
	addIMAPCmd.Flags().BoolVar(&imapNoTLS, "no-tls", false, "Disable TLS (plain connection, not recommended)")
	addIMAPCmd.Flags().BoolVar(&imapSTARTTLS, "starttls", false, "Use STARTTLS instead of implicit TLS")
	addIMAPCmd.Flags().BoolVar(&imapSkipTest, "skip-test", false, "Save the account without testing the connection")
	rootCmd.AddCommand(addIMAPCmd)
}
