// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for PeerConnections. An
// empty config gathers host candidates only, which is enough on one
// machine or LAN.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds a config with one server entry per STUN or
// TURN URL. Credentials are not supported here; TURN with credentials
// must be configured through Servers directly.
func ICEConfigFromURLs(urls []string) ICEConfig {
	var config ICEConfig
	for _, url := range urls {
		if url == "" {
			continue
		}
		config.Servers = append(config.Servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return config
}

// iceGatherTimeout bounds candidate gathering before an SDP is
// published.
const iceGatherTimeout = 15 * time.Second

// iceConnectTimeout bounds the wait for ICE to connect once the answer
// is applied.
const iceConnectTimeout = 30 * time.Second

// newPeerConnection creates a PeerConnection with one send-receive
// audio transceiver.
func newPeerConnection(config ICEConfig) (*webrtc.PeerConnection, error) {
	// Loopback candidates let two endpoints on one host (and tests)
	// connect.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("adding audio transceiver: %w", err)
	}
	return pc, nil
}
