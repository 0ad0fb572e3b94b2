// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"sync"

	"github.com/tandem-chat/tandem/lib/address"
)

var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. tandem-sessiond serves one
// to its clients; tests share one between a Launcher and an Answerer.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[address.Address][]Offer
	answers map[string]Answer
}

// NewMemorySignaler creates an empty signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[address.Address][]Offer),
		answers: make(map[string]Answer),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, offer Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offer.To] = append(s.offers[offer.To], offer)
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, answer Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[answer.Token] = answer
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, endpoint address.Address) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offers := s.offers[endpoint]
	delete(s.offers, endpoint)
	return offers, nil
}

func (s *MemorySignaler) PollAnswer(_ context.Context, token string) (Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer, ok := s.answers[token]
	if ok {
		delete(s.answers, token)
	}
	return answer, ok, nil
}

// Withdraw drops an unanswered offer and any answer for token. Used
// when the caller gives up.
func (s *MemorySignaler) Withdraw(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.answers, token)
	for endpoint, offers := range s.offers {
		kept := offers[:0]
		for _, offer := range offers {
			if offer.Token != token {
				kept = append(kept, offer)
			}
		}
		if len(kept) == 0 {
			delete(s.offers, endpoint)
		} else {
			s.offers[endpoint] = kept
		}
	}
}
