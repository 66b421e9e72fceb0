// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Command ststorectl is a read-only inspector for a named shared region: it
// attaches to a region published by some other process and lists, fetches
// or summarises its fields, without ever creating or modifying the region
// itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pathFlag string

func main() {
	root := &cobra.Command{
		Use:   "ststorectl",
		Short: "Inspect a shared structstore region",
	}
	root.PersistentFlags().StringVar(&pathFlag, "path", "", "path of the shared region to attach to")

	root.AddCommand(newLsCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newStatCmd())
	root.AddCommand(newReplCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ststorectl: %s\n", err)
		os.Exit(1)
	}
}

func requirePath() error {
	if pathFlag == "" {
		return fmt.Errorf("--path is required")
	}
	return nil
}
