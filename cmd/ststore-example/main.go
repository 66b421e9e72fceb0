// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package main

import (
	"flag"
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/serialize"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/shared"
	"github.com/fmstephe/structstore/structstore"
	"github.com/fmstephe/structstore/typeregistry"
)

var (
	pathFlag    = flag.String("path", "", "The path to create or attach a shared region at")
	bufSizeFlag = flag.Int64("bufsize", 1<<20, "The heap size, in bytes, used only when this run creates the region")
	reinitFlag  = flag.Bool("reinit", false, "Discard and recreate the region if one already exists at -path")
)

// visitCountHash is the registered type hash for a bare int32 visit
// counter, the simplest possible field a caller can add to a StructStore
// alongside the built-ins.
var visitCountHash uint64

func init() {
	info := typeregistry.TypeInfo{
		Name: "ststore-example::visitCount",
		Size: unsafe.Sizeof(int32(0)),
		Construct: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
			*(*int32)(data) = 0
		},
		Destruct: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, _ unsafe.Pointer) {},
		Copy: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, dst, src unsafe.Pointer) {
			*(*int32)(dst) = *(*int32)(src)
		},
		Equal: func(a, b unsafe.Pointer) bool {
			return *(*int32)(a) == *(*int32)(b)
		},
		ToText: func(data unsafe.Pointer) string {
			return fmt.Sprintf("%d", *(*int32)(data))
		},
		ToYAML: func(data unsafe.Pointer) (any, error) {
			return *(*int32)(data), nil
		},
		Check: func(_ *sharedalloc.SharedAlloc, _ unsafe.Pointer, _ *errtrace.Trace) error {
			return nil
		},
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	visitCountHash = typeregistry.Hash(info.Name)
}

func main() {
	flag.Parse()

	if *pathFlag == "" {
		fmt.Printf("No -path flag provided. Nothing to attach to.\n")
		return
	}

	region, err := shared.Open(*pathFlag, shared.Options{
		BufSize: *bufSizeFlag,
		Reinit:  *reinitFlag,
		Cleanup: shared.CleanupIfLast,
	})
	if err != nil {
		fmt.Printf("Error opening region %s\n", err)
		return
	}
	defer region.Close()

	greeting, err := structstore.Get[structstore.String](region.Store(), region.Tag(), "greeting", typeregistry.MustLookup(structstore.StringHash))
	if err != nil {
		fmt.Printf("Error fetching greeting field %s\n", err)
		return
	}
	if greeting.Value() == "" {
		if err := greeting.Set(region.Alloc(), region.Tag(), "hello from ststore-example"); err != nil {
			fmt.Printf("Error setting greeting field %s\n", err)
			return
		}
	}

	visits, err := structstore.Get[int32](region.Store(), region.Tag(), "visits", typeregistry.MustLookup(visitCountHash))
	if err != nil {
		fmt.Printf("Error fetching visits field %s\n", err)
		return
	}
	*visits++

	text, err := serialize.RegionText(region)
	if err != nil {
		fmt.Printf("Error rendering region %s\n", err)
		return
	}
	fmt.Printf("%s\n", text)
}
