package upgrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AccountClient talks to the account service over HTTP. It is the concrete
// AccountService used in production; tests substitute fakes.
type AccountClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ AccountService = (*AccountClient)(nil)

// NewAccountClient builds a client for the account service.
func NewAccountClient(baseURL string) *AccountClient {
	return &AccountClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RebindHandle points wallet at newHandle and returns the reissued session
// token. The account service invalidates tokens bound to the old handle.
func (c *AccountClient) RebindHandle(ctx context.Context, wallet, newHandle string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"wallet":     wallet,
		"new_handle": newHandle,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/rebind", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rebind request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read rebind response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("account service status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("unmarshal rebind response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("account service returned no token")
	}
	return out.Token, nil
}
