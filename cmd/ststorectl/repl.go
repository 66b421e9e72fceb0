// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fmstephe/structstore/shared"
	"github.com/spf13/cobra"
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Open an interactive prompt against the attached region",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePath(); err != nil {
				return err
			}
			region, err := shared.Attach(pathFlag, shared.CleanupNever)
			if err != nil {
				return err
			}
			defer region.Close()

			return runRepl(region, cmd.OutOrStdout())
		},
	}
}

func runRepl(region *shared.Region, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ststorectl> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(out, "attached to %s, %d field(s). Type help for commands.\n", pathFlag, mustFieldCount(region))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			fmt.Fprintln(out, "commands: ls, get <field>, stat, revalidate, quit")
		case "quit", "exit":
			return nil
		case "ls":
			runReplLs(region, out)
		case "get":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: get <field>")
				continue
			}
			runReplGet(region, out, fields[1])
		case "stat":
			runReplStat(region, out)
		case "revalidate":
			runReplRevalidate(region, out)
		default:
			fmt.Fprintf(out, "unrecognised command %q, try help\n", fields[0])
		}
	}
}

func mustFieldCount(region *shared.Region) int {
	slots, err := region.Store().Slots(region.Tag())
	if err != nil {
		return 0
	}
	return len(slots)
}

func runReplLs(region *shared.Region, out io.Writer) {
	slots, err := region.Store().Slots(region.Tag())
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", err)
		return
	}
	for _, name := range slots {
		fmt.Fprintln(out, name)
	}
}

func runReplGet(region *shared.Region, out io.Writer, name string) {
	text, err := getFieldText(region, name)
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", err)
		return
	}
	fmt.Fprintln(out, text)
}

func runReplStat(region *shared.Region, out io.Writer) {
	slots, err := region.Store().Slots(region.Tag())
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", err)
		return
	}
	fmt.Fprintf(out, "size:     %d bytes\n", region.Size())
	fmt.Fprintf(out, "attached: %d\n", region.UsageCount())
	fmt.Fprintf(out, "valid:    %t\n", region.Valid())
	fmt.Fprintf(out, "fields:   %d\n", len(slots))
}

func runReplRevalidate(region *shared.Region, out io.Writer) {
	ok, err := region.Revalidate(false)
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", err)
		return
	}
	if ok {
		fmt.Fprintln(out, "region is valid")
	} else {
		fmt.Fprintln(out, "region still invalidated, creator has not republished yet")
	}
}
