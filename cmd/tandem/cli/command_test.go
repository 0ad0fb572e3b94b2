// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "tandem",
		Subcommands: []*Command{
			{Name: "login", Run: func(context.Context, []string) error { called = "login"; return nil }},
			{Name: "roster", Run: func(context.Context, []string) error { called = "roster"; return nil }},
		},
	}

	if err := root.Execute(context.Background(), []string{"roster"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "roster" {
		t.Errorf("dispatched to %q, want %q", called, "roster")
	}
}

func TestCommand_Execute_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "marker")
	var seen any
	root := &Command{
		Name: "tandem",
		Subcommands: []*Command{{
			Name: "status",
			Run: func(ctx context.Context, _ []string) error {
				seen = ctx.Value(key{})
				return nil
			},
		}},
	}
	if err := root.Execute(ctx, []string{"status"}); err != nil {
		t.Fatal(err)
	}
	if seen != "marker" {
		t.Errorf("context value = %v", seen)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var socket, target string
	command := &Command{
		Name: "call",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			flagSet.StringVar(&socket, "socket", "/default.sock", "session manager socket")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--socket", "/custom.sock", "bob@example.net"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socket != "/custom.sock" {
		t.Errorf("socket = %q", socket)
	}
	if target != "bob@example.net" {
		t.Errorf("target = %q", target)
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "roster",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("roster", pflag.ContinueOnError)
			flagSet.Bool("refresh", false, "bypass the cache")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--refersh"})
	if err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if !strings.Contains(err.Error(), "did you mean --refresh") {
		t.Errorf("error = %q, want a suggestion", err)
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err)
	}
	if CategoryOf(err) != CategoryValidation {
		t.Errorf("category = %v", CategoryOf(err))
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "roster",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("roster", pflag.ContinueOnError)
			flagSet.Bool("refresh", false, "bypass the cache")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest a distant flag", err)
	}
}

func TestCommand_Execute_UnknownSubcommand(t *testing.T) {
	root := &Command{
		Name:        "tandem",
		Subcommands: []*Command{{Name: "login"}, {Name: "roster"}, {Name: "status"}},
	}

	err := root.Execute(context.Background(), []string{"rostre"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "roster"`) {
		t.Errorf("error = %v, want a suggestion for roster", err)
	}

	err = root.Execute(context.Background(), []string{"zzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		var output bytes.Buffer
		ran := false
		command := &Command{
			Name:    "login",
			Summary: "Sign in to an account",
			Output:  &output,
			Run:     func(context.Context, []string) error { ran = true; return nil },
		}
		if err := command.Execute(context.Background(), []string{helpArg}); err != nil {
			t.Errorf("Execute(%q) error: %v", helpArg, err)
		}
		if ran {
			t.Errorf("Execute(%q) ran the command", helpArg)
		}
		if !strings.Contains(output.String(), "Sign in to an account") {
			t.Errorf("help for %q = %q", helpArg, output.String())
		}
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	var output bytes.Buffer
	root := &Command{
		Name:        "tandem",
		Output:      &output,
		Subcommands: []*Command{{Name: "login", Summary: "Sign in"}},
	}
	err := root.Execute(context.Background(), nil)
	if CategoryOf(err) != CategoryValidation {
		t.Errorf("error = %v, want a validation error", err)
	}
	if !strings.Contains(output.String(), "login") {
		t.Errorf("help does not list subcommands: %q", output.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{Name: "tandem"}
	child := &Command{
		Name:        "call",
		Description: "Call a contact on their first capable device.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			flagSet.Duration("timeout", 0, "give up after this long")
			return flagSet
		},
		Examples: []Example{{Description: "Call Bob", Command: "tandem call bob@example.net"}},
		parent:   root,
	}
	var output bytes.Buffer
	child.PrintHelp(&output)
	for _, want := range []string{"Call a contact", "tandem call [flags]", "--timeout", "# Call Bob"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("help missing %q:\n%s", want, output.String())
		}
	}
}

func TestToolErrorExitCode(t *testing.T) {
	tests := []struct {
		err  *ToolError
		want int
	}{
		{Validation("bad"), 2},
		{NotFound("missing"), 3},
		{Transient("later"), 4},
		{Internal("broken"), 1},
	}
	for _, test := range tests {
		if got := test.err.ExitCode(); got != test.want {
			t.Errorf("%s: ExitCode() = %d, want %d", test.err.Category, got, test.want)
		}
	}

	inner := errors.New("socket refused")
	wrapped := Transient("session manager: %w", inner)
	if !errors.Is(wrapped, inner) {
		t.Error("ToolError does not unwrap")
	}
	if CategoryOf(errors.New("plain")) != CategoryInternal {
		t.Error("plain error not internal")
	}
}
