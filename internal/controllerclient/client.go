// Package controllerclient implements the REST client to the SDN
// controller (C7): token lifecycle with proactive refresh, 401-retry-once,
// and typed calls over a shared envelope-unwrapping helper.
package controllerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// refreshBuffer is the fixed window before expiry at which ensureFresh
// proactively refreshes the access token, specialized from the hybrid
// percentage-of-lifetime/fixed-buffer idea down to a single fixed buffer.
const refreshBuffer = 60 * time.Second

// Client is the controller REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	clientID     string
	clientSecret string

	// tokenMu guards token, serializing both reads before a request and the
	// refresh-under-lock path so concurrent callers never race a refresh.
	tokenMu sync.Mutex
	token   TokenPair
}

// New constructs a Client bound to the controller at baseURL.
func New(baseURL, clientID, clientSecret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger.Named("controllerclient"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// envelope is the controller's response shape; data may be any JSON value
// and is unmarshaled into the caller's target separately.
type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Metadata json.RawMessage `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// ensureFresh refreshes the access token under tokenMu if it is within
// refreshBuffer of expiry or absent. Called before every authed request.
func (c *Client) ensureFresh(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token.AccessToken != "" && time.Until(c.token.ExpiresAt) > refreshBuffer {
		return nil
	}
	return c.refreshLocked(ctx)
}

// refreshLocked acquires a fresh token pair. With no refresh token yet held
// it performs the initial exchange (POST /auth/token, client credentials,
// unauthenticated); once a refresh token is held, renewal uses GET
// /auth/refresh bearing the refresh token itself, not the access token.
func (c *Client) refreshLocked(ctx context.Context) error {
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}

	var err error
	if c.token.RefreshToken != "" {
		err = c.rawJSONAs(ctx, http.MethodGet, "/auth/refresh", nil, nil, c.token.RefreshToken, &resp)
	} else {
		body := map[string]string{"client_id": c.clientID, "client_secret": c.clientSecret}
		err = c.rawJSONAs(ctx, http.MethodPost, "/auth/token", body, nil, "", &resp)
	}
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	c.token = TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	return nil
}

// doJSON performs an authenticated request, unwraps the envelope (or falls
// back to a flat body if the response isn't enveloped), and decodes into
// out. A 401 triggers exactly one forced refresh-and-retry.
func (c *Client) doJSON(ctx context.Context, method, path string, body, query interface{}, out interface{}) error {
	if err := c.ensureFresh(ctx); err != nil {
		return err
	}

	c.tokenMu.Lock()
	accessToken := c.token.AccessToken
	c.tokenMu.Unlock()

	status, respBody, err := c.do(ctx, method, path, body, query, accessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		c.tokenMu.Lock()
		refreshErr := c.refreshLocked(ctx)
		accessToken = c.token.AccessToken
		c.tokenMu.Unlock()
		if refreshErr != nil {
			return fmt.Errorf("token expired, refresh failed: %w", refreshErr)
		}
		status, respBody, err = c.do(ctx, method, path, body, query, accessToken)
		if err != nil {
			return err
		}
	}

	if status >= 400 {
		return fmt.Errorf("controller returned status %d: %s", status, string(respBody))
	}
	if out == nil {
		return nil
	}
	return decodeEnvelopeOrFlat(respBody, out)
}

// rawJSONAs performs an unauthenticated-or-custom-bearer request, bypassing
// ensureFresh and the stored access token. It's used only by refreshLocked,
// which must control exactly which credential (none, or the refresh token)
// goes on the wire.
func (c *Client) rawJSONAs(ctx context.Context, method, path string, body, query interface{}, bearer string, out interface{}) error {
	status, respBody, err := c.do(ctx, method, path, body, query, bearer)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("controller returned status %d: %s", status, string(respBody))
	}
	return decodeEnvelopeOrFlat(respBody, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, query interface{}, bearer string) (int, []byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, nil, err
	}
	u.Path = path
	if query != nil {
		values, err := toQuery(query)
		if err != nil {
			return 0, nil, err
		}
		u.RawQuery = values.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func decodeEnvelopeOrFlat(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(data, out)
}

func toQuery(v interface{}) (url.Values, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	values := url.Values{}
	for k, val := range flat {
		values.Set(k, fmt.Sprintf("%v", val))
	}
	return values, nil
}
