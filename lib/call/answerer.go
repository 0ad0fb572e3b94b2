// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/clock"
)

// AcceptFunc decides whether to take an incoming call.
type AcceptFunc func(offer Offer) bool

// AnswererConfig configures an Answerer.
type AnswererConfig struct {
	Signaler Signaler

	// Endpoint is the full address offers must be directed at.
	Endpoint address.Address

	ICE ICEConfig

	// PollInterval is how often offers are polled for. Zero means
	// 500ms.
	PollInterval time.Duration

	// Accept decides each offer. Nil accepts everything.
	Accept AcceptFunc

	// OnCall is invoked with each accepted call after its answer is
	// published. May be nil.
	OnCall func(*Call)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Answerer is the callee side of a call.
type Answerer struct {
	signaler     Signaler
	endpoint     address.Address
	ice          ICEConfig
	pollInterval time.Duration
	accept       AcceptFunc
	onCall       func(*Call)
	clock        clock.Clock
	logger       *slog.Logger

	mu    sync.Mutex
	calls map[string]*Call
}

// NewAnswerer creates an Answerer for config.Endpoint.
func NewAnswerer(config AnswererConfig) (*Answerer, error) {
	if config.Signaler == nil {
		return nil, errors.New("call: Signaler is required")
	}
	if config.Endpoint.IsEmpty() || config.Endpoint.IsBare() {
		return nil, fmt.Errorf("call: answerer endpoint %q must be a full address", config.Endpoint)
	}
	answerer := &Answerer{
		signaler:     config.Signaler,
		endpoint:     config.Endpoint,
		ice:          config.ICE,
		pollInterval: config.PollInterval,
		accept:       config.Accept,
		onCall:       config.OnCall,
		clock:        config.Clock,
		logger:       config.Logger,
		calls:        make(map[string]*Call),
	}
	if answerer.pollInterval <= 0 {
		answerer.pollInterval = defaultPollInterval
	}
	if answerer.clock == nil {
		answerer.clock = clock.Real()
	}
	if answerer.logger == nil {
		answerer.logger = slog.Default()
	}
	return answerer, nil
}

// Run polls for offers until ctx is done, then hangs up every call it
// answered.
func (a *Answerer) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.pollInterval)
	defer ticker.Stop()
	defer a.hangupAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Answerer) poll(ctx context.Context) {
	offers, err := a.signaler.PollOffers(ctx, a.endpoint)
	if err != nil {
		a.logger.Warn("polling for call offers failed", "error", err)
		return
	}
	for _, offer := range offers {
		if err := a.answer(ctx, offer); err != nil {
			a.logger.Error("answering call failed", "from", offer.From, "token", offer.Token, "error", err)
		}
	}
}

func (a *Answerer) answer(ctx context.Context, offer Offer) error {
	if a.accept != nil && !a.accept(offer) {
		a.logger.Info("call declined", "from", offer.From, "token", offer.Token)
		return a.signaler.PublishAnswer(ctx, Answer{
			Token: offer.Token,
			From:  a.endpoint,
			To:    offer.From,
		})
	}

	connection, err := newPeerConnection(a.ice)
	if err != nil {
		return err
	}
	call := newCall(offer.Token, a.endpoint, offer.From, connection)

	if err := connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		call.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	description, err := connection.CreateAnswer(nil)
	if err != nil {
		call.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := gather(ctx, connection, description, a.clock)
	if err != nil {
		call.Close()
		return err
	}
	if err := a.signaler.PublishAnswer(ctx, Answer{
		Token:    offer.Token,
		From:     a.endpoint,
		To:       offer.From,
		Accepted: true,
		SDP:      sdp,
	}); err != nil {
		call.Close()
		return fmt.Errorf("publishing answer: %w", err)
	}

	a.mu.Lock()
	a.calls[call.Token] = call
	a.mu.Unlock()

	a.logger.Info("call answered", "from", offer.From, "token", offer.Token)
	if a.onCall != nil {
		a.onCall(call)
	}
	return nil
}

// Hangup ends the answered call for token.
func (a *Answerer) Hangup(token string) bool {
	a.mu.Lock()
	call := a.calls[token]
	delete(a.calls, token)
	a.mu.Unlock()
	if call == nil {
		return false
	}
	call.Close()
	return true
}

func (a *Answerer) hangupAll() {
	a.mu.Lock()
	calls := make([]*Call, 0, len(a.calls))
	for _, call := range a.calls {
		calls = append(calls, call)
	}
	clear(a.calls)
	a.mu.Unlock()
	for _, call := range calls {
		call.Close()
	}
}
