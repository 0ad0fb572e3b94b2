// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets timing code run against a controllable clock in
// tests.
//
// Components that wait (call setup deadlines, answer polling, the
// memory backend's simulated latency) take a [Clock] in their config
// and default to [Real]. Tests pass a [FakeClock], wait for the
// component to arm its timer with [FakeClock.WaitForTimers], then fire
// it with [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	backend := sessionmgr.NewMemoryBackend(directory, time.Hour, fake)
//	go session.Login(ctx, credential)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Hour)
package clock
