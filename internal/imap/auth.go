package imap

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wesm/projmail/internal/fileutil"
)

type credentialsFile struct {
	Password string `json:"password"`
}

// credentialsPath returns the path to the credentials file for the given identifier.
func credentialsPath(tokensDir, identifier string) string {
	hash := sha256.Sum256([]byte(identifier))
	return filepath.Join(tokensDir, fmt.Sprintf("imap_%x.json", hash[:8]))
}

// SaveCredentials saves an IMAP password for the given identifier.
func SaveCredentials(tokensDir, identifier, password string) error {
	if err := fileutil.SecureMkdirAll(tokensDir, 0700); err != nil {
		return fmt.Errorf("create tokens dir: %w", err)
	}
	data, err := json.Marshal(credentialsFile{Password: password})
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(credentialsPath(tokensDir, identifier), data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadCredentials loads an IMAP password for the given identifier.
func LoadCredentials(tokensDir, identifier string) (string, error) {
	data, err := os.ReadFile(credentialsPath(tokensDir, identifier))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no credentials found for %s (run 'add-imap' first)", identifier)
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	return creds.Password, nil
}

// HasCredentials returns true if credentials exist for the given identifier.
func HasCredentials(tokensDir, identifier string) bool {
	_, err := os.Stat(credentialsPath(tokensDir, identifier))
	return err == nil
}
