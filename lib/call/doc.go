// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package call places and answers WebRTC audio calls once discovery
// has chosen a callee endpoint.
//
// [Launcher] is the caller side and implements discovery.Launcher.
// Launch builds a pion PeerConnection with one audio transceiver,
// gathers every ICE candidate before publishing (vanilla ICE, so one
// offer and one answer complete signaling), and returns once the offer
// is out. A background goroutine then polls the [Signaler] for the
// answer carrying the handoff's correlation token and reports the
// outcome through the configured [ResultFunc].
//
// [Answerer] is the callee side: it polls for offers addressed to its
// endpoint, asks an [AcceptFunc] whether to take each one, and
// publishes an answer or a decline.
//
// Signaling is abstracted by [Signaler]. [MemorySignaler] exchanges
// messages in process; tandem-sessiond relays the same messages over
// its socket (see package sessionmgr).
package call
