// Package oauth provides the OAuth2 authorization flows for the Gmail source.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/wesm/projmail/internal/fileutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes lets projmail read messages and clear the UNREAD label once a
// message has been triaged.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
}

// ErrNoToken is returned when no Gmail authorization has been saved yet.
var ErrNoToken = errors.New("gmail is not authorized")

const (
	tokenFileName  = "gmail.json"
	redirectPort   = "8089"
	callbackPath   = "/callback"
	deviceEndpoint = "https://oauth2.googleapis.com/device/code"
	tokenEndpoint  = "https://oauth2.googleapis.com/token"
)

// Manager acquires, refreshes and stores the Gmail OAuth token.
type Manager struct {
	config    *oauth2.Config
	tokensDir string
	logger    *slog.Logger

	httpClient *http.Client
	deviceURL  string
	tokenURL   string
	stdout     io.Writer
}

// NewManager creates a manager from a Google client secrets JSON file.
func NewManager(clientSecretsPath, tokensDir string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return newManager(config, tokensDir, logger), nil
}

func newManager(config *oauth2.Config, tokensDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:     config,
		tokensDir:  tokensDir,
		logger:     logger,
		httpClient: http.DefaultClient,
		deviceURL:  deviceEndpoint,
		tokenURL:   tokenEndpoint,
		stdout:     os.Stdout,
	}
}

// TokenSource returns an auto-refreshing token source for the saved token.
// A refreshed token is written back so the next run starts from it.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := m.loadToken()
	if err != nil {
		return nil, err
	}

	ts := m.config.TokenSource(ctx, token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := m.saveToken(fresh); err != nil {
			m.logger.Warn("failed to save refreshed token", "error", err)
		}
	}
	return oauth2.ReuseTokenSource(fresh, ts), nil
}

// HasToken reports whether an authorization has been saved.
func (m *Manager) HasToken() bool {
	_, err := m.loadToken()
	return err == nil
}

// Authorize runs the OAuth flow and saves the resulting token. Headless
// mode uses the device authorization grant instead of a browser redirect.
func (m *Manager) Authorize(ctx context.Context, headless bool) error {
	var (
		token *oauth2.Token
		err   error
	)
	if headless {
		token, err = m.deviceFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx)
	}
	if err != nil {
		return err
	}
	return m.saveToken(token)
}

// DeleteToken removes the saved authorization.
func (m *Manager) DeleteToken() error {
	err := os.Remove(m.TokenPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// TokenPath returns where the token is stored.
func (m *Manager) TokenPath() string {
	return filepath.Join(m.tokensDir, tokenFileName)
}

func (m *Manager) newCallbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != expectedState {
			errChan <- fmt.Errorf("state mismatch: possible CSRF attack")
			fmt.Fprintf(w, "Error: state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			fmt.Fprintf(w, "Error: no authorization code received")
			return
		}
		codeChan <- code
		fmt.Fprintf(w, "Authorization successful! You can close this window.")
	}
}

func (m *Manager) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle(callbackPath, m.newCallbackHandler(state, codeChan, errChan))
	server := &http.Server{Addr: "localhost:" + redirectPort, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	m.config.RedirectURL = "http://localhost:" + redirectPort + callbackPath
	authURL := m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintf(m.stdout, "Opening browser for authorization...\n")
	fmt.Fprintf(m.stdout, "If browser doesn't open, visit:\n%s\n\n", authURL)
	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	select {
	case code := <-codeChan:
		return m.config.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// errPending marks device-flow poll responses that mean "keep waiting".
var errPending = errors.New("authorization pending")

func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	var device deviceCodeResponse
	err := m.postForm(ctx, m.deviceURL, url.Values{
		"client_id": {m.config.ClientID},
		"scope":     {strings.Join(m.config.Scopes, " ")},
	}, &device)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}

	fmt.Fprintf(m.stdout, "\nTo authorize projmail, visit:\n  %s\n\n", device.VerificationURL)
	fmt.Fprintf(m.stdout, "And enter code: %s\n\nWaiting for authorization...\n", device.UserCode)

	interval := time.Duration(device.Interval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(device.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := m.pollForToken(ctx, device.DeviceCode)
		if errors.Is(err, errPending) {
			continue
		}
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(m.stdout, "Authorization successful!\n")
		return token, nil
	}
	return nil, fmt.Errorf("authorization timed out")
}

func (m *Manager) pollForToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
	}
	err := m.postForm(ctx, m.tokenURL, url.Values{
		"client_id":     {m.config.ClientID},
		"client_secret": {m.config.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch resp.Error {
	case "":
	case "authorization_pending", "slow_down":
		return nil, errPending
	default:
		return nil, fmt.Errorf("oauth error: %s", resp.Error)
	}

	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (m *Manager) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(m.TokenPath())
	if os.IsNotExist(err) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &token, nil
}

func (m *Manager) saveToken(token *oauth2.Token) error {
	if err := fileutil.SecureMkdirAll(m.tokensDir, 0700); err != nil {
		return fmt.Errorf("create tokens dir: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(m.TokenPath(), data, 0600)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
