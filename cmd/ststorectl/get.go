// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package main

import (
	"fmt"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/shared"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <field>",
		Short: "Print the value of a single field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePath(); err != nil {
				return err
			}
			region, err := shared.Attach(pathFlag, shared.CleanupNever)
			if err != nil {
				return err
			}
			defer region.Close()

			text, err := getFieldText(region, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

// getFieldText renders the named top-level field's value, formatted with %v
// from the whole store's YAML form rather than through a field-by-field
// API, since a caller at this level has no type hash to ask for a single
// field by name directly.
func getFieldText(region *shared.Region, name string) (string, error) {
	fields, err := region.Store().ToYAML(region.Tag())
	if err != nil {
		return "", err
	}
	value, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errs.ErrFieldNotFound, name)
	}
	return fmt.Sprintf("%v", value), nil
}
