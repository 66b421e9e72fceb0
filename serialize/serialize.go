// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package serialize provides the top-level ToText/ToYAML entry points
// described by this store's text/YAML projection. Every type already
// builds its own JSON-like text or map/slice/scalar YAML intermediate form
// (structstore.String/List/Matrix/StructStore, fieldmap.Map, field.Field);
// this package's only job is the outermost one: take that intermediate
// form and, for YAML, hand it to gopkg.in/yaml.v3 to produce an actual YAML
// document.
package serialize

import (
	"fmt"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/shared"
	"github.com/fmstephe/structstore/structstore"
	"gopkg.in/yaml.v3"
)

// Text renders s as a JSON-like object, {"name":value,...}.
func Text(s *structstore.StructStore, tag *spinlock.Tag) (string, error) {
	return s.ToText(tag)
}

// YAML renders s as a YAML mapping document.
func YAML(s *structstore.StructStore, tag *spinlock.Tag) ([]byte, error) {
	fields, err := s.ToYAML(tag)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("structstore: marshalling YAML: %w", err)
	}
	return out, nil
}

// ListText renders l as a JSON-like array, [value,...].
func ListText(l *structstore.List, tag *spinlock.Tag) (string, error) {
	return l.ToText(tag)
}

// ListYAML renders l as a YAML sequence document. Fails with
// errs.ErrUnsupportedSerialization if any element is a Matrix.
func ListYAML(l *structstore.List, tag *spinlock.Tag) ([]byte, error) {
	elements, err := l.ToYAML(tag)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("structstore: marshalling YAML: %w", err)
	}
	return out, nil
}

// RegionText renders a shared region's root store as a JSON-like object.
// An invalidated region is errs.ErrSegmentInvalidated.
func RegionText(r *shared.Region) (string, error) {
	if !r.Valid() {
		return "", errs.ErrSegmentInvalidated
	}
	return Text(r.Store(), r.Tag())
}

// RegionYAML renders a shared region's root store as a YAML mapping
// document. An invalidated region is errs.ErrSegmentInvalidated.
func RegionYAML(r *shared.Region) ([]byte, error) {
	if !r.Valid() {
		return nil, errs.ErrSegmentInvalidated
	}
	return YAML(r.Store(), r.Tag())
}
