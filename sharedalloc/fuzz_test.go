package sharedalloc

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/fmstephe/structstore/internal/spinlock"
)

// FuzzStringStorageIntern drives random Intern/Lookup sequences, drawn from
// a small alphabet so collisions and repeats are common, through a single
// StringStorage and checks that every name ever interned keeps resolving to
// the same, content-equal bytes no matter how many grows happen in between.
// This is the region-resident hash table counterpart to the allocator fuzz
// target in internal/minimalloc.
func FuzzStringStorageIntern(f *testing.F) {
	f.Add([]byte{0, 1, 2, 0, 1, 3, 2, 2, 1})
	f.Fuzz(func(t *testing.T, raw []byte) {
		buf := make([]byte, HeaderSize+1<<20)
		a := (*SharedAlloc)(unsafe.Pointer(&buf[0]))
		if err := a.Init(buf[HeaderSize:]); err != nil {
			t.Fatalf("Init: %v", err)
		}
		tag := spinlock.NewTag()
		s := &StringStorage{}
		if err := s.Init(tag, a); err != nil {
			t.Fatalf("Init: %v", err)
		}

		interned := map[string]string{}
		for _, b := range raw {
			name := fmt.Sprintf("name-%d", b%16)
			got, err := s.Intern(tag, name)
			if err != nil {
				t.Fatalf("Intern(%q): %v", name, err)
			}
			if got != name {
				t.Fatalf("Intern(%q) returned %q", name, got)
			}
			if prior, ok := interned[name]; ok {
				if prior != got {
					t.Fatalf("Intern(%q) returned inconsistent content across calls: %q vs %q", name, prior, got)
				}
			} else {
				interned[name] = got
			}
		}

		for name := range interned {
			got, found, err := s.Lookup(tag, name)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", name, err)
			}
			if !found {
				t.Fatalf("Lookup(%q): not found after Intern", name)
			}
			if got != name {
				t.Fatalf("Lookup(%q) returned %q", name, got)
			}
		}
	})
}
