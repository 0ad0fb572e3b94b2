// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"fmt"

	"github.com/tandem-chat/tandem/lib/address"
)

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	// NoticeHandoff: a candidate was accepted and the launcher was
	// invoked. Notice.Handoff is set.
	NoticeHandoff NoticeKind = iota

	// NoticeNoCandidate: the search finished without an accepted
	// candidate. Terminal and not an error.
	NoticeNoCandidate

	// NoticeQueryFailed: the endpoint enumeration failed.
	// Notice.Err is a *QueryFailedError.
	NoticeQueryFailed

	// NoticeLaunchFailed: the launcher returned an error for the
	// handoff in Notice.Handoff.
	NoticeLaunchFailed

	// NoticeResult: a handoff result was matched back by its token.
	// Notice.Handoff and Notice.Outcome are set.
	NoticeResult
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeHandoff:
		return "handoff"
	case NoticeNoCandidate:
		return "no-candidate"
	case NoticeQueryFailed:
		return "query-failed"
	case NoticeLaunchFailed:
		return "launch-failed"
	case NoticeResult:
		return "result"
	default:
		return "unknown"
	}
}

// Notice is something the screen should tell the user about.
type Notice struct {
	Kind    NoticeKind
	Target  address.Address
	Handoff Handoff
	Outcome Outcome
	Err     error
}

// Message is the one-line text for the notices line.
func (n Notice) Message() string {
	switch n.Kind {
	case NoticeHandoff:
		return fmt.Sprintf("calling %s", n.Handoff.Remote)
	case NoticeNoCandidate:
		return fmt.Sprintf("no callable device found for %s", n.Target)
	case NoticeQueryFailed:
		return fmt.Sprintf("could not look up %s: %v", n.Target, n.Err)
	case NoticeLaunchFailed:
		return fmt.Sprintf("call to %s failed: %v", n.Handoff.Remote, n.Err)
	case NoticeResult:
		if n.Outcome.Err != nil {
			return fmt.Sprintf("call to %s ended: %v", n.Handoff.Remote, n.Outcome.Err)
		}
		if n.Outcome.Accepted {
			return fmt.Sprintf("call to %s connected", n.Handoff.Remote)
		}
		return fmt.Sprintf("call to %s was not answered", n.Handoff.Remote)
	default:
		return n.Kind.String()
	}
}
