// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tandem-chat/tandem/lib/netutil"
	"github.com/tandem-chat/tandem/lib/secret"
)

// maxRetryAfter caps how long a rate-limited request waits before its
// single retry. Longer hints are returned to the caller as errors.
const maxRetryAfter = 5 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// HomeserverURL is the homeserver's base URL, such as
	// "https://matrix.example.org".
	HomeserverURL string

	// HTTPClient carries every request. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// DeviceName is the display name given to devices created by
	// Login. Empty means "tandem".
	DeviceName string

	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. Sessions created from it
// share its HTTP transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	deviceName string
	logger     *slog.Logger
}

// NewClient validates the homeserver URL and returns a client for it.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, errors.New("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must be http or https", config.HomeserverURL)
	}

	client := &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: config.HTTPClient,
		deviceName: config.DeviceName,
		logger:     config.Logger,
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.deviceName == "" {
		client.deviceName = "tandem"
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client, nil
}

// Login exchanges a user ID (or bare localpart) and password for a
// Session. The caller keeps ownership of password.
func (c *Client) Login(ctx context.Context, user string, password *secret.Buffer) (*Session, error) {
	if user == "" {
		return nil, errors.New("messaging: user is required for login")
	}
	if password == nil {
		return nil, errors.New("messaging: password is required for login")
	}

	request := LoginRequest{
		Type:                     "m.login.password",
		Identifier:               UserIdentifier{Type: "m.id.user", User: user},
		Password:                 password.String(),
		InitialDeviceDisplayName: c.deviceName,
	}
	var response AuthResponse
	if err := c.call(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, request, &response); err != nil {
		return nil, fmt.Errorf("messaging: login as %s: %w", user, err)
	}
	c.logger.Info("logged in to matrix", "user_id", response.UserID, "device_id", response.DeviceID)
	return c.newSession(response.UserID, response.DeviceID, response.AccessToken)
}

// SessionFromToken wraps an existing access token without contacting
// the homeserver. A bad token surfaces on the first request.
func (c *Client) SessionFromToken(userID, accessToken string) (*Session, error) {
	return c.newSession(userID, "", accessToken)
}

func (c *Client) newSession(userID, deviceID, accessToken string) (*Session, error) {
	token, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &Session{client: c, accessToken: token, userID: userID, deviceID: deviceID}, nil
}

// call sends one JSON request and decodes a 2xx body into out (nil
// discards it). Non-2xx responses with a Matrix error body become a
// *MatrixError. A rate-limited request is retried once when the
// server's hint is short enough.
func (c *Client) call(ctx context.Context, method, path string, token *secret.Buffer, in, out any) error {
	var encoded []byte
	if in != nil {
		var err error
		if encoded, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
	}

	body, err := c.send(ctx, method, path, token, encoded)
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeLimitExceeded &&
		matrixErr.RetryAfter > 0 && matrixErr.RetryAfter <= maxRetryAfter {
		c.logger.Debug("rate limited, retrying", "path", path, "retry_after", matrixErr.RetryAfter)
		select {
		case <-time.After(matrixErr.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
		body, err = c.send(ctx, method, path, token, encoded)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, token *secret.Buffer, encoded []byte) ([]byte, error) {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if encoded != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != nil {
		request.Header.Set("Authorization", "Bearer "+token.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return body, nil
	}

	matrixErr := &MatrixError{StatusCode: response.StatusCode}
	if json.Unmarshal(body, matrixErr) != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, netutil.ErrorBody(body))
	}
	return nil, matrixErr
}
