// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"

	"github.com/tandem-chat/tandem/lib/address"
)

// Offer is a caller's complete SDP offer, directed at one endpoint.
type Offer struct {
	Token string          `cbor:"token"`
	From  address.Address `cbor:"from"`
	To    address.Address `cbor:"to"`
	SDP   string          `cbor:"sdp"`
}

// Answer is the callee's reply to an Offer with the same Token. A
// declined call carries Accepted false and no SDP.
type Answer struct {
	Token    string          `cbor:"token"`
	From     address.Address `cbor:"from"`
	To       address.Address `cbor:"to"`
	Accepted bool            `cbor:"accepted"`
	SDP      string          `cbor:"sdp,omitempty"`
}

// Signaler exchanges offers and answers between caller and callee.
// Polls consume what they return: each message is delivered once.
type Signaler interface {
	// PublishOffer stores offer where offer.To can poll it.
	PublishOffer(ctx context.Context, offer Offer) error

	// PublishAnswer stores answer under its token.
	PublishAnswer(ctx context.Context, answer Answer) error

	// PollOffers returns and removes the pending offers addressed to
	// endpoint.
	PollOffers(ctx context.Context, endpoint address.Address) ([]Offer, error)

	// PollAnswer returns and removes the answer for token, reporting
	// false if none has arrived yet.
	PollAnswer(ctx context.Context, token string) (Answer, bool, error)
}
