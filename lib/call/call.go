// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/clock"
)

// Call is one side of an established or establishing call.
type Call struct {
	Token  string
	Local  address.Address
	Remote address.Address

	connection *webrtc.PeerConnection

	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan struct{}
	failedOnce    sync.Once
	closeOnce     sync.Once
}

func newCall(token string, local, remote address.Address, connection *webrtc.PeerConnection) *Call {
	call := &Call{
		Token:      token,
		Local:      local,
		Remote:     remote,
		connection: connection,
		connected:  make(chan struct{}),
		failed:     make(chan struct{}),
	}
	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			call.connectedOnce.Do(func() { close(call.connected) })
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			call.failedOnce.Do(func() { close(call.failed) })
		}
	})
	return call
}

// Connected is closed once ICE connects.
func (c *Call) Connected() <-chan struct{} { return c.connected }

// Ended is closed when ICE fails or the call is closed.
func (c *Call) Ended() <-chan struct{} { return c.failed }

// Close hangs up. Idempotent.
func (c *Call) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.connection.Close()
		c.failedOnce.Do(func() { close(c.failed) })
	})
	return err
}

// waitConnected blocks until ICE connects, fails, or times out.
func (c *Call) waitConnected(ctx context.Context, clk clock.Clock) error {
	select {
	case <-c.connected:
		return nil
	case <-c.failed:
		return ErrConnectFailed
	case <-clk.After(iceConnectTimeout):
		return fmt.Errorf("%w: ICE did not connect within %s", ErrConnectFailed, iceConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gather sets description as the local description, waits for
// candidate gathering to finish, and returns the complete SDP.
func gather(ctx context.Context, connection *webrtc.PeerConnection, description webrtc.SessionDescription, clk clock.Clock) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-clk.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return connection.LocalDescription().SDP, nil
}
