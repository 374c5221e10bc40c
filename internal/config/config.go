// Package config handles loading and managing projmail configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the projmail configuration file.
type Config struct {
	Data      DataConfig      `toml:"data"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Gmail     GmailConfig     `toml:"gmail"`
	IMAP      []IMAPConfig    `toml:"imap"`
	AppleMail AppleMailConfig `toml:"applemail"`
	Inbox     InboxConfig     `toml:"inbox"`
	Server    ServerConfig    `toml:"server"`
	Schedule  ScheduleConfig  `toml:"schedule"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// GmailConfig configures the Gmail source.
type GmailConfig struct {
	Enabled      bool   `toml:"enabled"`
	Query        string `toml:"query"`          // search used to list candidates
	RateLimitQPS int    `toml:"rate_limit_qps"` // request pacing
}

// IMAPConfig configures one IMAP account. The password is stored in the
// credentials file written by add-imap, never in the config file.
type IMAPConfig struct {
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	STARTTLS bool   `toml:"starttls"`
	Username string `toml:"username"`
	Mailbox  string `toml:"mailbox"`
	Enabled  bool   `toml:"enabled"`
}

// AppleMailConfig configures the Apple Mail source.
type AppleMailConfig struct {
	Enabled   bool     `toml:"enabled"`
	MailDir   string   `toml:"mail_dir"`
	Mailboxes []string `toml:"mailboxes"` // mailbox names to read, e.g. "INBOX"
}

// InboxConfig configures the local drop directory of .eml files.
type InboxConfig struct {
	Dir string `toml:"dir"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort     int      `toml:"api_port"`
	BindAddr    string   `toml:"bind_addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   float64  `toml:"rate_limit"` // requests per second per client IP
}

// ScheduleConfig holds cron expressions for the serve scheduler. An empty
// expression disables the job.
type ScheduleConfig struct {
	Fetch     string `toml:"fetch"`
	Reminders string `toml:"reminders"`
	FetchMax  int    `toml:"fetch_max"`
}

// DefaultHome returns the default projmail home directory.
// Respects PROJMAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("PROJMAIL_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".projmail"
	}
	return filepath.Join(home, ".projmail")
}

// NewDefault returns the configuration used when no config file exists.
func NewDefault(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data:    DataConfig{DataDir: homeDir},
		Gmail: GmailConfig{
			Query:        "is:unread in:inbox",
			RateLimitQPS: 5,
		},
		AppleMail: AppleMailConfig{
			MailDir:   "~/Library/Mail",
			Mailboxes: []string{"INBOX"},
		},
		Server: ServerConfig{
			APIPort:   8080,
			BindAddr:  "127.0.0.1",
			RateLimit: 10,
		},
		Schedule: ScheduleConfig{
			Fetch:     "*/15 * * * *",
			Reminders: "0 * * * *",
			FetchMax:  50,
		},
	}
}

// Load reads the configuration file. If path is empty it uses
// <home>/config.toml, where home is homeDir when set, else DefaultHome.
// A missing file yields the defaults.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	}
	homeDir = expandPath(homeDir)
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := NewDefault(homeDir)
	cfg.configPath = expandPath(path)

	if _, err := os.Stat(cfg.configPath); os.IsNotExist(err) {
		cfg.expandPaths()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(cfg.configPath, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expandPaths()

	for i := range cfg.IMAP {
		if err := cfg.IMAP[i].Validate(); err != nil {
			return nil, fmt.Errorf("imap account %d: %w", i+1, err)
		}
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.Data.DataDir = expandPath(c.Data.DataDir)
	c.OAuth.ClientSecrets = expandPath(c.OAuth.ClientSecrets)
	c.AppleMail.MailDir = expandPath(c.AppleMail.MailDir)
	c.Inbox.Dir = expandPath(c.Inbox.Dir)
}

// Validate checks required fields and fills in defaults for port, mailbox
// and name.
func (a *IMAPConfig) Validate() error {
	if a.Host == "" {
		return fmt.Errorf("host is required")
	}
	if a.Username == "" {
		return fmt.Errorf("username is required")
	}
	if a.TLS && a.STARTTLS {
		return fmt.Errorf("tls and starttls are mutually exclusive")
	}
	if a.Port == 0 {
		if a.TLS {
			a.Port = 993
		} else {
			a.Port = 143
		}
	}
	if a.Mailbox == "" {
		a.Mailbox = "INBOX"
	}
	if a.Name == "" {
		a.Name = a.Username + "@" + a.Host
	}
	return nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.ConfigFilePath()), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(c.ConfigFilePath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// AddIMAP adds or replaces the IMAP account with the same name.
func (c *Config) AddIMAP(acct IMAPConfig) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	for i := range c.IMAP {
		if c.IMAP[i].Name == acct.Name {
			c.IMAP[i] = acct
			return nil
		}
	}
	c.IMAP = append(c.IMAP, acct)
	return nil
}

// ConfigFilePath returns the config file location.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// EnsureHomeDir creates the home and data directories if missing.
func (c *Config) EnsureHomeDir() error {
	for _, dir := range []string{c.HomeDir, c.Data.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "projmail.db")
}

// RawDir returns the directory holding archived raw messages.
func (c *Config) RawDir() string {
	return filepath.Join(c.Data.DataDir, "raw")
}

// TokensDir returns the directory holding OAuth tokens and credentials.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// InboxDir returns the local drop directory, defaulting to <data>/inbox.
func (c *Config) InboxDir() string {
	if c.Inbox.Dir != "" {
		return c.Inbox.Dir
	}
	return filepath.Join(c.Data.DataDir, "inbox")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimLeft(path[1:], `/\`))
}
