package errtrace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTraceWrapsUnchanged(t *testing.T) {
	var tr *Trace
	err := errors.New("boom")
	assert.Equal(t, err, tr.Wrap(err))
	assert.NoError(t, tr.Wrap(nil))
}

func TestPushBuildsNestedPath(t *testing.T) {
	var tr *Trace
	inner := tr.Push("sub").Push("list").Push("[3]")
	err := inner.Wrap(errors.New("bad pointer"))
	require.Error(t, err)
	assert.Equal(t, "sub.list.[3]: bad pointer", err.Error())
}

func TestPushDoesNotMutateReceiver(t *testing.T) {
	root := (*Trace)(nil).Push("root")
	a := root.Push("a")
	b := root.Push("b")

	errA := a.Wrap(errors.New("x"))
	errB := b.Wrap(errors.New("x"))
	assert.Equal(t, "root.a: x", errA.Error())
	assert.Equal(t, "root.b: x", errB.Error())
}

func TestWrapPreservesErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := (*Trace)(nil).Push("f").Wrap(sentinel)
	assert.ErrorIs(t, err, sentinel)
}
