// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/tandem-chat/tandem/lib/secret"
)

// Session is an authenticated Matrix session. The access token is
// stored in a secret.Buffer; the caller must call Close when the
// Session is no longer needed.
type Session struct {
	client      *Client
	accessToken *secret.Buffer
	userID      string
	deviceID    string
}

// UserID returns the fully-qualified Matrix user ID (e.g., "@alice:example.org").
func (s *Session) UserID() string {
	return s.userID
}

// DeviceID returns the device ID for this session.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Close releases the access token memory. Idempotent.
func (s *Session) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

func (s *Session) get(ctx context.Context, path string, out any) error {
	return s.client.call(ctx, http.MethodGet, path, s.accessToken, nil, out)
}

func roomPath(roomID string, segments ...string) string {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID)
	for _, segment := range segments {
		path += "/" + url.PathEscape(segment)
	}
	return path
}

// ResolveAlias resolves a room alias such as "#tandem:example.org" to
// its room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias string) (string, error) {
	var response ResolveAliasResponse
	if err := s.get(ctx, "/_matrix/client/v3/directory/room/"+url.PathEscape(alias), &response); err != nil {
		return "", fmt.Errorf("messaging: resolving %s: %w", alias, err)
	}
	return response.RoomID, nil
}

// JoinedMembers returns the user IDs of a room's joined members,
// sorted.
func (s *Session) JoinedMembers(ctx context.Context, roomID string) ([]string, error) {
	var response JoinedMembersResponse
	if err := s.get(ctx, roomPath(roomID, "joined_members"), &response); err != nil {
		return nil, fmt.Errorf("messaging: joined members of %s: %w", roomID, err)
	}
	members := make([]string, 0, len(response.Joined))
	for userID := range response.Joined {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members, nil
}

// GetRoomState fetches every current state event of a room.
func (s *Session) GetRoomState(ctx context.Context, roomID string) ([]Event, error) {
	var events []Event
	if err := s.get(ctx, roomPath(roomID, "state"), &events); err != nil {
		return nil, fmt.Errorf("messaging: state of %s: %w", roomID, err)
	}
	return events, nil
}

// GetStateEvent fetches one state event's content. A missing event is
// a *MatrixError with code M_NOT_FOUND.
func (s *Session) GetStateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error) {
	var content json.RawMessage
	if err := s.get(ctx, roomPath(roomID, "state", eventType, stateKey), &content); err != nil {
		return nil, fmt.Errorf("messaging: state %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	return content, nil
}

// SendStateEvent sets a state event and returns its event ID.
func (s *Session) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error) {
	var response SendEventResponse
	path := roomPath(roomID, "state", eventType, stateKey)
	if err := s.client.call(ctx, http.MethodPut, path, s.accessToken, content, &response); err != nil {
		return "", fmt.Errorf("messaging: setting %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	return response.EventID, nil
}

// Logout invalidates the access token on the homeserver. Close is
// still required afterwards.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.client.call(ctx, http.MethodPost, "/_matrix/client/v3/logout", s.accessToken, struct{}{}, nil); err != nil {
		return fmt.Errorf("messaging: logout: %w", err)
	}
	return nil
}
