// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier names the account in a login request.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by login.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  string   `json:"room_id"`
	Servers []string `json:"servers"`
}

// JoinedMembersResponse is returned by the /joined_members endpoint.
type JoinedMembersResponse struct {
	Joined map[string]JoinedMember `json:"joined"`
}

// JoinedMember is one entry of a joined-members listing.
type JoinedMember struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Event represents a Matrix event from the server.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// SendEventResponse is returned when sending an event.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}
