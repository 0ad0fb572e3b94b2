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

	"github.com/tandem-chat/tandem/lib/clock"
	"github.com/tandem-chat/tandem/lib/discovery"
)

var (
	// ErrNoAnswer is the outcome error when the callee never answers.
	ErrNoAnswer = errors.New("call: no answer")

	// ErrConnectFailed is the outcome error when an accepted call's
	// media path cannot be established.
	ErrConnectFailed = errors.New("call: connection failed")

	// ErrClosed is returned by Launch after Close.
	ErrClosed = errors.New("call: launcher closed")
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultAnswerTimeout = 30 * time.Second
)

// ResultFunc receives the outcome of a launched call, keyed by the
// handoff's correlation token.
type ResultFunc func(token string, outcome discovery.Outcome)

// LauncherConfig configures a Launcher.
type LauncherConfig struct {
	Signaler Signaler
	ICE      ICEConfig

	// PollInterval is how often the answer is polled for. Zero means
	// 500ms.
	PollInterval time.Duration

	// AnswerTimeout bounds the wait for an answer. Zero means 30s.
	AnswerTimeout time.Duration

	// Results receives each call's outcome. May be nil.
	Results ResultFunc

	Clock  clock.Clock
	Logger *slog.Logger
}

// Launcher places calls for accepted discovery candidates.
type Launcher struct {
	signaler      Signaler
	ice           ICEConfig
	pollInterval  time.Duration
	answerTimeout time.Duration
	results       ResultFunc
	clock         clock.Clock
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	calls  map[string]*Call
	closed bool
}

var _ discovery.Launcher = (*Launcher)(nil)

// NewLauncher creates a Launcher.
func NewLauncher(config LauncherConfig) (*Launcher, error) {
	if config.Signaler == nil {
		return nil, errors.New("call: Signaler is required")
	}
	launcher := &Launcher{
		signaler:      config.Signaler,
		ice:           config.ICE,
		pollInterval:  config.PollInterval,
		answerTimeout: config.AnswerTimeout,
		results:       config.Results,
		clock:         config.Clock,
		logger:        config.Logger,
		calls:         make(map[string]*Call),
	}
	if launcher.pollInterval <= 0 {
		launcher.pollInterval = defaultPollInterval
	}
	if launcher.answerTimeout <= 0 {
		launcher.answerTimeout = defaultAnswerTimeout
	}
	if launcher.clock == nil {
		launcher.clock = clock.Real()
	}
	if launcher.logger == nil {
		launcher.logger = slog.Default()
	}
	launcher.ctx, launcher.cancel = context.WithCancel(context.Background())
	return launcher, nil
}

// Launch publishes an offer to handoff.Remote and returns once it is
// out. The outcome is reported later through Results.
func (l *Launcher) Launch(ctx context.Context, handoff discovery.Handoff) error {
	if handoff.Token == "" {
		return errors.New("call: handoff has no correlation token")
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	connection, err := newPeerConnection(l.ice)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	call := newCall(handoff.Token, handoff.Local, handoff.Remote, connection)

	offer, err := connection.CreateOffer(nil)
	if err != nil {
		call.Close()
		return fmt.Errorf("call: creating SDP offer: %w", err)
	}
	sdp, err := gather(ctx, connection, offer, l.clock)
	if err != nil {
		call.Close()
		return fmt.Errorf("call: %w", err)
	}
	if err := l.signaler.PublishOffer(ctx, Offer{
		Token: handoff.Token,
		From:  handoff.Local,
		To:    handoff.Remote,
		SDP:   sdp,
	}); err != nil {
		call.Close()
		return fmt.Errorf("call: publishing offer: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		call.Close()
		return ErrClosed
	}
	l.calls[call.Token] = call
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Info("call offer published", "remote", handoff.Remote, "token", handoff.Token)
	go l.await(call)
	return nil
}

func (l *Launcher) await(call *Call) {
	defer l.wg.Done()
	outcome := l.outcome(call)
	if !outcome.Accepted {
		l.drop(call.Token)
	}
	if l.ctx.Err() != nil {
		return
	}
	l.logger.Info("call outcome",
		"remote", call.Remote,
		"token", call.Token,
		"accepted", outcome.Accepted,
		"error", outcome.Err,
	)
	if l.results != nil {
		l.results(call.Token, outcome)
	}
}

func (l *Launcher) outcome(call *Call) discovery.Outcome {
	answer, err := l.waitForAnswer(call.Token)
	if err != nil {
		return discovery.Outcome{Err: err}
	}
	if !answer.Accepted {
		return discovery.Outcome{Accepted: false}
	}
	if err := call.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return discovery.Outcome{Err: fmt.Errorf("call: setting remote description: %w", err)}
	}
	if err := call.waitConnected(l.ctx, l.clock); err != nil {
		return discovery.Outcome{Err: err}
	}
	return discovery.Outcome{Accepted: true}
}

// waitForAnswer polls the signaler for the answer to token.
func (l *Launcher) waitForAnswer(token string) (Answer, error) {
	deadline := l.clock.After(l.answerTimeout)
	ticker := l.clock.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return Answer{}, ErrNoAnswer
		case <-l.ctx.Done():
			return Answer{}, l.ctx.Err()
		case <-ticker.C:
			answer, ok, err := l.signaler.PollAnswer(l.ctx, token)
			if err != nil {
				l.logger.Warn("polling for call answer failed", "token", token, "error", err)
				continue
			}
			if ok {
				return answer, nil
			}
		}
	}
}

func (l *Launcher) drop(token string) *Call {
	l.mu.Lock()
	call := l.calls[token]
	delete(l.calls, token)
	l.mu.Unlock()
	if call != nil {
		call.Close()
	}
	return call
}

// Active returns the call for token if it is still up.
func (l *Launcher) Active(token string) (*Call, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	call, ok := l.calls[token]
	return call, ok
}

// Hangup ends the call for token. Reports whether there was one.
func (l *Launcher) Hangup(token string) bool {
	return l.drop(token) != nil
}

// Close hangs up every call and stops outstanding answer waits. No
// further outcomes are reported. Idempotent.
func (l *Launcher) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	calls := make([]*Call, 0, len(l.calls))
	for _, call := range l.calls {
		calls = append(calls, call)
	}
	clear(l.calls)
	l.mu.Unlock()

	l.cancel()
	for _, call := range calls {
		call.Close()
	}
	l.wg.Wait()
	return nil
}
