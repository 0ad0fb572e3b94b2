// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/pflag"
)

// maxSuggestionDistance is the largest edit distance still worth a
// "did you mean". Three catches transpositions and a dropped or extra
// character.
const maxSuggestionDistance = 3

// closest returns the candidate nearest to input, or "" when none is
// within maxSuggestionDistance.
func closest(input string, candidates []string) string {
	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, candidate := range candidates {
		if distance := levenshtein.ComputeDistance(input, candidate); distance < bestDistance {
			best = candidate
			bestDistance = distance
		}
	}
	return best
}

// suggestCommand returns the subcommand name closest to unknown.
func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for i, command := range commands {
		names[i] = command.Name
	}
	return closest(unknown, names)
}

// suggestFlag finds the first flag in args that flagSet does not
// define and returns the closest defined flag with its dashes, or "".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	for _, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}
		if flagSet.Lookup(name) != nil {
			continue
		}
		if len(name) == 1 && flagSet.ShorthandLookup(name) != nil {
			continue
		}
		if suggestion := closest(name, defined); suggestion != "" {
			return "--" + suggestion
		}
		return ""
	}
	return ""
}
