// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package main

import (
	"fmt"

	"github.com/fmstephe/structstore/shared"
	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Summarise the attached region: size, attacher count, field count",
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

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:     %s\n", pathFlag)
			fmt.Fprintf(out, "size:     %d bytes\n", region.Size())
			fmt.Fprintf(out, "attached: %d\n", region.UsageCount())
			fmt.Fprintf(out, "valid:    %t\n", region.Valid())
			fmt.Fprintf(out, "fields:   %d\n", len(slots))
			return nil
		},
	}
}
