// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/call"
	"github.com/tandem-chat/tandem/lib/codec"
	"github.com/tandem-chat/tandem/lib/gateway"
)

// Actions understood by tandem-sessiond.
const (
	ActionAttach  = "attach"
	ActionOpen    = "open"
	ActionLogin   = "login"
	ActionDispose = "dispose"
	ActionRoster  = "roster"
	ActionItems   = "items"
	ActionInfo    = "info"
	ActionPublish = "publish"
	ActionStatus  = "status"

	ActionSignalOffer      = "signal.offer"
	ActionSignalAnswer     = "signal.answer"
	ActionSignalPollOffers = "signal.poll_offers"
	ActionSignalPollAnswer = "signal.poll_answer"
)

// Response is the wire-format envelope for every response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`

	// Rejected is set on errors that refuse the request itself, such
	// as a wrong credential, as opposed to failing to carry it out.
	Rejected bool `cbor:"rejected,omitempty"`
}

// AttachResponse is the first (and only) response on an attach
// stream. The connection then stays open until either side leaves.
type AttachResponse struct {
	Client  string `cbor:"client"`
	Backend string `cbor:"backend"`
}

type sessionRequest struct {
	Client  string          `cbor:"client,omitempty"`
	Address address.Address `cbor:"address"`
}

// OpenResponse reports whether the opened session is already logged in.
type OpenResponse struct {
	Authenticated bool `cbor:"authenticated"`
}

type loginRequest struct {
	Address    address.Address `cbor:"address"`
	Credential []byte          `cbor:"credential"`
}

type targetRequest struct {
	Address address.Address `cbor:"address"`
	Target  address.Address `cbor:"target"`
}

type publishRequest struct {
	Address address.Address `cbor:"address"`
	Record  EndpointRecord  `cbor:"record"`
}

// RosterResponse carries an account's contacts.
type RosterResponse struct {
	Contacts []address.Address `cbor:"contacts"`
}

// ItemsResponse carries a contact's child endpoints.
type ItemsResponse struct {
	Endpoints []gateway.Endpoint `cbor:"endpoints"`
}

// InfoResponse carries an endpoint's features.
type InfoResponse struct {
	Features gateway.CapabilitySet `cbor:"features"`
}

// StatusResponse describes the daemon.
type StatusResponse struct {
	Backend       string          `cbor:"backend"`
	UptimeSeconds int64           `cbor:"uptime_seconds"`
	Attached      int             `cbor:"attached"`
	Sessions      []SessionStatus `cbor:"sessions"`
}

type offerRequest struct {
	Offer call.Offer `cbor:"offer"`
}

type answerRequest struct {
	Answer call.Answer `cbor:"answer"`
}

type pollOffersRequest struct {
	Endpoint address.Address `cbor:"endpoint"`
}

type pollAnswerRequest struct {
	Token string `cbor:"token"`
}

// PollOffersResponse carries the offers consumed by a poll.
type PollOffersResponse struct {
	Offers []call.Offer `cbor:"offers"`
}

// PollAnswerResponse carries an answer, if one was waiting.
type PollAnswerResponse struct {
	Found  bool        `cbor:"found"`
	Answer call.Answer `cbor:"answer"`
}
