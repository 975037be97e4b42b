package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"livechat/internal/chat"
)

const httpTimeout = 5 * time.Second

// Account is the signed-in user as known to the client.
type Account struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token"`
	Server      string `json:"server,omitempty"`
}

func (a *Account) Authenticated() bool {
	return a != nil && a.Username != "" && a.Token != ""
}

// ChatIdentity is the identity a chat session runs as.
func (a *Account) ChatIdentity() chat.Identity {
	if a == nil {
		return chat.Identity{}
	}
	return chat.Identity{ID: a.Username, DisplayName: a.DisplayName, Authenticated: a.Authenticated()}
}

// APIClient talks to the server's HTTP endpoints. It also serves as the
// history fetcher of chat sessions.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ chat.HistoryFetcher = (*APIClient)(nil)

// NewAPIClient derives the HTTP base from the websocket join URL.
func NewAPIClient(joinURL string) (*APIClient, error) {
	base, err := httpBaseFromJoinURL(joinURL)
	if err != nil {
		return nil, err
	}
	return &APIClient{baseURL: base, http: &http.Client{Timeout: httpTimeout}}, nil
}

// WithToken returns a copy that authenticates as token.
func (c *APIClient) WithToken(token string) *APIClient {
	clone := *c
	clone.token = token
	return &clone
}

func (c *APIClient) Signup(ctx context.Context, username, password, displayName string) error {
	payload := map[string]string{"username": username, "password": password}
	if displayName != "" {
		payload["display_name"] = displayName
	}
	return c.do(ctx, http.MethodPost, "/signup", payload, nil)
}

func (c *APIClient) Login(ctx context.Context, username, password string) (*Account, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/login", payload, &resp); err != nil {
		return nil, err
	}
	return &Account{Username: resp.Username, DisplayName: resp.DisplayName, Token: resp.Token}, nil
}

func (c *APIClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil)
}

// Me checks the token and returns the account it belongs to.
func (c *APIClient) Me(ctx context.Context) (*Account, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return nil, err
	}
	return &Account{Username: resp.Username, DisplayName: resp.DisplayName, Token: c.token}, nil
}

// FetchHistory loads the stored messages of a channel.
func (c *APIClient) FetchHistory(ctx context.Context, channelID string) ([]chat.MessageEvent, error) {
	query := url.Values{}
	query.Set("channel", channelID)
	query.Set("limit", strconv.Itoa(defaultHistoryMax))
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/history?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch history of %s: %w", channelID, err)
	}
	return resp.Messages, nil
}

// RoomExists asks whether a room is live or has history.
func (c *APIClient) RoomExists(ctx context.Context, room string) (bool, error) {
	query := url.Values{}
	query.Set("room", room)
	err := c.do(ctx, http.MethodGet, "/exists?"+query.Encode(), nil, nil)
	var status *statusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return false, nil
	}
	return err == nil, err
}

type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *APIClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Message: readResponseError(resp.Body)}
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// LoadAccount reads a saved login. A missing file yields nil without error.
func LoadAccount(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if !account.Authenticated() {
		return nil, errors.New("session file incomplete")
	}
	return &account, nil
}

func SaveAccount(path string, account Account) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func DeleteAccount(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
