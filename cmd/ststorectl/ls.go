// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package main

import (
	"fmt"

	"github.com/fmstephe/structstore/shared"
	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the top-level field names of the attached region",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePath(); err != nil {
				return err
			}
			region, err := shared.Attach(pathFlag, shared.CleanupNever)
			if err != nil {
				return err
			}
			defer region.Close()

			slots, err := region.Store().Slots(region.Tag())
			if err != nil {
				return err
			}
			for _, name := range slots {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
