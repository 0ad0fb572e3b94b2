// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/call"
	"github.com/tandem-chat/tandem/lib/codec"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/netutil"
	"github.com/tandem-chat/tandem/lib/secret"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing the request.
const responseReadTimeout = 45 * time.Second

const maxResponseSize = 1024 * 1024

var (
	_ gateway.Connector  = (*Client)(nil)
	_ gateway.Connection = (*connection)(nil)
	_ gateway.Session    = (*remoteSession)(nil)
	_ call.Signaler      = (*Client)(nil)
)

// ServiceError is returned when tandem-sessiond responds with
// ok=false. Refused is set when the daemon refused the request itself
// (a wrong credential) rather than failing to carry it out.
type ServiceError struct {
	Action  string
	Message string
	Refused bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("session manager error on %q: %s", e.Action, e.Message)
}

// DisplayMessage is the daemon's own text, without the action prefix.
func (e *ServiceError) DisplayMessage() string { return e.Message }

// Rejected implements the gateway's refusal marker, see
// [gateway.IsRejected].
func (e *ServiceError) Rejected() bool { return e.Refused }

// IsServiceError reports whether err is a *ServiceError carrying
// message.
func IsServiceError(err error, message string) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Message == message
}

// CredentialSource supplies saved credentials. Implemented by
// *credstore.Store.
type CredentialSource interface {
	Load(ctx context.Context, account address.Address) (*secret.Buffer, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	SocketPath string

	// Credentials, when set, is used to log in sessions that open
	// unauthenticated. A missing or rejected saved credential leaves
	// the session as it was.
	Credentials CredentialSource

	Logger *slog.Logger
}

// Client talks to tandem-sessiond. Each request uses its own
// connection; Connect additionally holds an attach stream whose loss
// is the disconnect signal.
type Client struct {
	socketPath  string
	credentials CredentialSource
	logger      *slog.Logger
}

// NewClient creates a client for the daemon at config.SocketPath.
func NewClient(config ClientConfig) *Client {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		socketPath:  config.SocketPath,
		credentials: config.Credentials,
		logger:      logger,
	}
}

// Call sends one request and decodes the response data into result.
// fields must not contain "action".
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := buildRequest(action, fields)

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error, Refused: response.Rejected}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// send writes request on a fresh connection and reads the response.
// Cancelling ctx abandons the wait.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, contextError(ctx, fmt.Errorf("writing request: %w", err))
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	response, err := readResponse(conn)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	return response, nil
}

func readResponse(conn net.Conn) (*Response, error) {
	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

// contextError prefers ctx's error over the I/O error its deadline
// caused.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Connect opens the attach stream.
func (c *Client) Connect(ctx context.Context) (gateway.Connection, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })

	var attach AttachResponse
	err = func() error {
		if err := codec.NewEncoder(conn).Encode(buildRequest(ActionAttach, nil)); err != nil {
			return fmt.Errorf("writing request: %w", err)
		}
		response, err := readResponse(conn)
		if err != nil {
			return err
		}
		if !response.OK {
			return &ServiceError{Action: ActionAttach, Message: response.Error}
		}
		return codec.Unmarshal(response.Data, &attach)
	}()
	if !stop() || err != nil {
		conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, contextError(ctx, err)
	}
	conn.SetDeadline(time.Time{})

	connection := &connection{
		client:       c,
		id:           attach.Client,
		stream:       conn,
		disconnected: make(chan struct{}),
	}
	go connection.watch()
	c.logger.Debug("attached to session manager", "client", attach.Client, "backend", attach.Backend)
	return connection, nil
}

// Status reports the daemon's state.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var response StatusResponse
	err := c.Call(ctx, ActionStatus, nil, &response)
	return response, err
}

// Publish advertises record through account's session.
func (c *Client) Publish(ctx context.Context, account address.Address, record EndpointRecord) error {
	return c.Call(ctx, ActionPublish, map[string]any{"address": account, "record": record}, nil)
}

func (c *Client) PublishOffer(ctx context.Context, offer call.Offer) error {
	return c.Call(ctx, ActionSignalOffer, map[string]any{"offer": offer}, nil)
}

func (c *Client) PublishAnswer(ctx context.Context, answer call.Answer) error {
	return c.Call(ctx, ActionSignalAnswer, map[string]any{"answer": answer}, nil)
}

func (c *Client) PollOffers(ctx context.Context, endpoint address.Address) ([]call.Offer, error) {
	var response PollOffersResponse
	if err := c.Call(ctx, ActionSignalPollOffers, map[string]any{"endpoint": endpoint}, &response); err != nil {
		return nil, err
	}
	return response.Offers, nil
}

func (c *Client) PollAnswer(ctx context.Context, token string) (call.Answer, bool, error) {
	var response PollAnswerResponse
	if err := c.Call(ctx, ActionSignalPollAnswer, map[string]any{"token": token}, &response); err != nil {
		return call.Answer{}, false, err
	}
	return response.Answer, response.Found, nil
}

// connection is an attach stream.
type connection struct {
	client       *Client
	id           string
	stream       net.Conn
	disconnected chan struct{}

	mu     sync.Mutex
	closed bool
}

// watch blocks until the stream ends. The daemon never writes after
// the attach response, so any read return is the end. A hang-up is
// the daemon going away and only worth a debug line; anything else is
// a fault in the stream.
func (c *connection) watch() {
	var buffer [1]byte
	_, err := c.stream.Read(buffer[:])

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err == nil || netutil.IsExpectedCloseError(err) {
		c.client.logger.Debug("session manager closed the attach stream", "client", c.id)
	} else {
		c.client.logger.Warn("lost connection to session manager", "client", c.id, "error", err)
	}
	close(c.disconnected)
}

func (c *connection) Disconnected() <-chan struct{} { return c.disconnected }

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.stream.Close()
}

func (c *connection) SessionFor(ctx context.Context, account address.Address) (gateway.Session, error) {
	var opened OpenResponse
	err := c.client.Call(ctx, ActionOpen, map[string]any{"client": c.id, "address": account}, &opened)
	if err != nil {
		return nil, err
	}
	session := &remoteSession{client: c.client, account: account}
	if !opened.Authenticated && c.client.credentials != nil {
		session.restore(ctx)
	}
	return session, nil
}

// remoteSession is one account's session inside the daemon.
type remoteSession struct {
	client  *Client
	account address.Address
}

// restore logs in with a saved credential, if there is one.
func (s *remoteSession) restore(ctx context.Context) {
	credential, err := s.client.credentials.Load(ctx, s.account)
	if err != nil {
		s.client.logger.Debug("no saved credential", "address", s.account, "error", err)
		return
	}
	defer credential.Close()
	if err := s.Login(ctx, credential.Bytes()); err != nil {
		s.client.logger.Warn("saved credential rejected", "address", s.account, "error", err)
	}
}

func (s *remoteSession) Address() address.Address { return s.account }

func (s *remoteSession) Login(ctx context.Context, credential []byte) error {
	return s.client.Call(ctx, ActionLogin, map[string]any{"address": s.account, "credential": credential}, nil)
}

func (s *remoteSession) QueryRoster(ctx context.Context) ([]address.Address, error) {
	var response RosterResponse
	if err := s.client.Call(ctx, ActionRoster, map[string]any{"address": s.account}, &response); err != nil {
		return nil, err
	}
	return response.Contacts, nil
}

func (s *remoteSession) QueryChildEndpoints(ctx context.Context, target address.Address) ([]gateway.Endpoint, error) {
	var response ItemsResponse
	if err := s.client.Call(ctx, ActionItems, map[string]any{"address": s.account, "target": target}, &response); err != nil {
		return nil, err
	}
	return response.Endpoints, nil
}

func (s *remoteSession) QueryCapabilities(ctx context.Context, target address.Address) (gateway.CapabilitySet, error) {
	var response InfoResponse
	if err := s.client.Call(ctx, ActionInfo, map[string]any{"address": s.account, "target": target}, &response); err != nil {
		return nil, err
	}
	return response.Features, nil
}

func (s *remoteSession) Dispose(ctx context.Context) error {
	return s.client.Call(ctx, ActionDispose, map[string]any{"address": s.account}, nil)
}
