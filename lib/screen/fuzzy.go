// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/tandem-chat/tandem/lib/address"
)

var initScoring sync.Once

// match is one roster entry that survived the filter. Positions are
// the rune offsets of matched characters in the entry's string form,
// ascending.
type match struct {
	address   address.Address
	score     int
	positions []int
}

// newSlab allocates the scratch space fzf reuses across matches. One
// slab per model; matching runs on the bubbletea goroutine only.
func newSlab() *util.Slab {
	return util.MakeSlab(100*1024, 2048)
}

// fuzzyFilter returns the entries matching pattern, best score first
// and roster order among equal scores. An empty pattern keeps every
// entry in roster order. Matching is case-insensitive unless the
// pattern contains an upper-case letter (fzf's smart case).
func fuzzyFilter(pattern string, entries []address.Address, slab *util.Slab) []match {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		matches := make([]match, len(entries))
		for i, entry := range entries {
			matches[i] = match{address: entry}
		}
		return matches
	}
	initScoring.Do(func() { algo.Init("default") })

	caseSensitive := strings.IndexFunc(pattern, unicode.IsUpper) >= 0
	runes := []rune(pattern)
	if !caseSensitive {
		runes = []rune(strings.ToLower(pattern))
	}

	var matches []match
	for _, entry := range entries {
		chars := util.ToChars([]byte(entry.String()))
		result, positions := algo.FuzzyMatchV2(caseSensitive, false, true, &chars, runes, true, slab)
		if result.Start < 0 {
			continue
		}
		found := match{address: entry, score: result.Score}
		if positions != nil {
			found.positions = slices.Clone(*positions)
			slices.Sort(found.positions)
		}
		matches = append(matches, found)
	}
	slices.SortStableFunc(matches, func(a, b match) int { return b.score - a.score })
	return matches
}

// highlight renders text with the runes at positions in the match
// style and the rest in base.
func highlight(text string, positions []int, base, matched lipgloss.Style) string {
	if len(positions) == 0 {
		return base.Render(text)
	}
	var builder strings.Builder
	var run []rune
	inMatch := false
	flush := func() {
		if len(run) == 0 {
			return
		}
		if inMatch {
			builder.WriteString(matched.Render(string(run)))
		} else {
			builder.WriteString(base.Render(string(run)))
		}
		run = run[:0]
	}
	next := 0
	for index, r := range []rune(text) {
		isMatch := next < len(positions) && positions[next] == index
		if isMatch {
			next++
		}
		if isMatch != inMatch {
			flush()
			inMatch = isMatch
		}
		run = append(run, r)
	}
	flush()
	return builder.String()
}
