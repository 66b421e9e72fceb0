package typeregistry

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmptyIsNoType(t *testing.T) {
	assert.Equal(t, NoType, Hash(""))
}

func TestHashDeterministic(t *testing.T) {
	assert.Equal(t, Hash("foobar"), Hash("foobar"))
	assert.NotEqual(t, Hash("foobar"), Hash("foobaz"))
}

func TestRegisterAndLookup(t *testing.T) {
	name := uniqueName(t, "int32")
	require.NoError(t, Register(TypeInfo{
		Name: name,
		Size: 4,
		Equal: func(a, b unsafe.Pointer) bool {
			return *(*int32)(a) == *(*int32)(b)
		},
	}))

	info, err := Lookup(Hash(name))
	require.NoError(t, err)
	assert.Equal(t, name, info.Name)
}

func TestRegisterTwiceSameNameErrors(t *testing.T) {
	name := uniqueName(t, "dup")
	require.NoError(t, Register(TypeInfo{Name: name}))
	err := Register(TypeInfo{Name: name})
	assert.ErrorIs(t, err, errs.ErrTypeAlreadyRegistered)
}

func TestLookupMissingReturnsFieldNotFound(t *testing.T) {
	_, err := Lookup(0xdeadbeef12345678)
	assert.ErrorIs(t, err, errs.ErrFieldNotFound)
}

func TestMustLookupPanicsOnMiss(t *testing.T) {
	assert.Panics(t, func() {
		MustLookup(0x1)
	})
}

var nameCounter int

func uniqueName(t *testing.T, base string) string {
	t.Helper()
	nameCounter++
	return fmt.Sprintf("%s-%s-%d", t.Name(), base, nameCounter)
}
