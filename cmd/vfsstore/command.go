// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one vfsstore subcommand.
type command struct {
	// Name is the command name as typed by the user.
	Name string

	// Summary is a one-line description shown in the command listing.
	Summary string

	// Usage is the usage line shown in the command's own help.
	Usage string

	// Flags returns the command's flag set. Nil means no flags.
	Flags func() *pflag.FlagSet

	// Run executes the command with the positional arguments left
	// after flag parsing.
	Run func(env *environment, flags *pflag.FlagSet, args []string) error
}

// exitError ends the process with Code without printing anything more;
// the command has already reported why.
type exitError struct {
	Code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// ExitCode returns the process exit code.
func (e *exitError) ExitCode() int { return e.Code }

// execute parses the command's flags and runs it.
func (c *command) execute(env *environment, args []string) error {
	flags := pflag.NewFlagSet(c.Name, pflag.ContinueOnError)
	if c.Flags != nil {
		flags = c.Flags()
	}
	flags.SetOutput(io.Discard)
	flags.BoolP("help", "h", false, "show help")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%s: %w\n\nRun 'vfsstore %s --help' for usage.", c.Name, err, c.Name)
	}
	if help, _ := flags.GetBool("help"); help {
		c.printHelp(env.stdout, flags)
		return nil
	}
	return c.Run(env, flags, flags.Args())
}

func (c *command) printHelp(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", c.Summary, c.Usage)
	var flagHelp strings.Builder
	flags.SetOutput(&flagHelp)
	flags.PrintDefaults()
	if flagHelp.Len() > 0 {
		fmt.Fprintf(w, "\nFlags:\n%s", flagHelp.String())
	}
}

func printCommands(w io.Writer, commands []*command) {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Summary)
	}
	tw.Flush()
}

func findCommand(commands []*command, name string) *command {
	for _, c := range commands {
		if c.Name == name {
			return c
		}
	}
	return nil
}
