// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/secret"
	"github.com/tandem-chat/tandem/messaging"
)

// EndpointEventType is the state event type endpoint records are
// published under in the directory room. The state key is the
// endpoint's full address.
const EndpointEventType = "chat.tandem.endpoint"

// endpointContent is the content of an EndpointEventType event.
type endpointContent struct {
	Node     string   `json:"node,omitempty"`
	Features []string `json:"features,omitempty"`
}

// MatrixConfig configures a MatrixBackend.
type MatrixConfig struct {
	HomeserverURL string

	// DirectoryRoom is the alias of the room whose joined members form
	// every account's roster and whose state holds endpoint records.
	DirectoryRoom string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// MatrixBackend maps sessions onto a Matrix homeserver. An address
// local@domain is the Matrix user @local:domain.
type MatrixBackend struct {
	client        *messaging.Client
	directoryRoom string
	logger        *slog.Logger
}

// NewMatrixBackend creates a backend for config.
func NewMatrixBackend(config MatrixConfig) (*MatrixBackend, error) {
	if config.DirectoryRoom == "" {
		return nil, errors.New("sessionmgr: matrix DirectoryRoom is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: config.HomeserverURL,
		HTTPClient:    config.HTTPClient,
		DeviceName:    "tandem-sessiond",
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return &MatrixBackend{client: client, directoryRoom: config.DirectoryRoom, logger: logger}, nil
}

func (b *MatrixBackend) Name() string { return "matrix" }

func (b *MatrixBackend) Open(account address.Address) (BackendSession, error) {
	if account.Local() == "" {
		return nil, fmt.Errorf("matrix accounts need a local part: %s", account)
	}
	return &matrixSession{backend: b, account: account.Bare()}, nil
}

// matrixUserID returns the Matrix user ID for account.
func matrixUserID(account address.Address) string {
	return "@" + account.Local() + ":" + account.Domain()
}

// addressFromUserID maps a Matrix user ID back to a bare address.
func addressFromUserID(userID string) (address.Address, error) {
	local, domain, ok := strings.Cut(strings.TrimPrefix(userID, "@"), ":")
	if !ok || !strings.HasPrefix(userID, "@") {
		return address.Empty, fmt.Errorf("malformed matrix user ID %q", userID)
	}
	return address.Parse(local + "@" + domain)
}

type matrixSession struct {
	backend *MatrixBackend
	account address.Address

	mu      sync.Mutex
	session *messaging.Session
	roomID  string
}

func (s *matrixSession) Login(ctx context.Context, credential []byte) error {
	password, err := secret.NewFromBytes(append([]byte(nil), credential...))
	if err != nil {
		return err
	}
	defer password.Close()

	session, err := s.backend.client.Login(ctx, matrixUserID(s.account), password)
	if err != nil {
		var matrixErr *messaging.MatrixError
		if errors.As(err, &matrixErr) && matrixErr.RejectsCredentials() {
			return &AuthError{Message: matrixErr.Message}
		}
		return err
	}
	roomID, err := session.ResolveAlias(ctx, s.backend.directoryRoom)
	if err != nil {
		session.Close()
		return err
	}

	s.mu.Lock()
	previous := s.session
	s.session = session
	s.roomID = roomID
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	return nil
}

func (s *matrixSession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *matrixSession) current() (*messaging.Session, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, "", ErrNotAuthenticated
	}
	return s.session, s.roomID, nil
}

func (s *matrixSession) Roster(ctx context.Context) ([]address.Address, error) {
	session, roomID, err := s.current()
	if err != nil {
		return nil, err
	}
	members, err := session.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	contacts := make([]address.Address, 0, len(members))
	for _, member := range members {
		contact, err := addressFromUserID(member)
		if err != nil {
			s.backend.logger.Debug("skipping unmappable member", "user_id", member, "error", err)
			continue
		}
		if contact != s.account {
			contacts = append(contacts, contact)
		}
	}
	return contacts, nil
}

// records reads every endpoint record in the directory room.
func (s *matrixSession) records(ctx context.Context) ([]EndpointRecord, error) {
	session, roomID, err := s.current()
	if err != nil {
		return nil, err
	}
	events, err := session.GetRoomState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var records []EndpointRecord
	for _, event := range events {
		if event.Type != EndpointEventType || event.StateKey == nil {
			continue
		}
		endpoint, err := address.Parse(*event.StateKey)
		if err != nil || endpoint.IsBare() {
			continue
		}
		// Only the owning account may publish its endpoints.
		if sender, err := addressFromUserID(event.Sender); err != nil || sender != endpoint.Bare() {
			continue
		}
		// Redacted or withdrawn records have empty content.
		if len(event.Content) == 0 {
			continue
		}
		var content endpointContent
		raw, _ := json.Marshal(event.Content)
		if err := json.Unmarshal(raw, &content); err != nil {
			continue
		}
		records = append(records, EndpointRecord{Address: endpoint, Node: content.Node, Features: content.Features})
	}
	return records, nil
}

func (s *matrixSession) Endpoints(ctx context.Context, target address.Address) ([]gateway.Endpoint, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	var endpoints []gateway.Endpoint
	for _, record := range records {
		if record.Address.Bare() == target.Bare() {
			endpoints = append(endpoints, gateway.Endpoint{Address: record.Address, Node: record.Node})
		}
	}
	return endpoints, nil
}

func (s *matrixSession) Capabilities(ctx context.Context, target address.Address) (gateway.CapabilitySet, error) {
	session, roomID, err := s.current()
	if err != nil {
		return nil, err
	}
	raw, err := session.GetStateEvent(ctx, roomID, EndpointEventType, target.String())
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, target)
		}
		return nil, err
	}
	var content endpointContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decoding endpoint record for %s: %w", target, err)
	}
	return gateway.CapabilitySet(content.Features), nil
}

func (s *matrixSession) Publish(ctx context.Context, record EndpointRecord) error {
	session, roomID, err := s.current()
	if err != nil {
		return err
	}
	if record.Address.Bare() != s.account {
		return fmt.Errorf("cannot publish %s for %s", record.Address, s.account)
	}
	_, err = session.SendStateEvent(ctx, roomID, EndpointEventType, record.Address.String(), endpointContent{
		Node:     record.Node,
		Features: record.Features,
	})
	return err
}

func (s *matrixSession) Close(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()
	if session == nil {
		return nil
	}
	defer session.Close()
	return session.Logout(ctx)
}
