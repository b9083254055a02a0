package wakeup

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	sends atomic.Int32
}

func fakeSend(h any) error {
	h.(*fakeHandle).sends.Add(1)
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, fakeSend)
	assert.ErrorIs(t, err, ErrNoHandle)

	_, err = New(&fakeHandle{}, nil)
	assert.ErrorIs(t, err, ErrNoSend)

	_, err = New([]int{1}, fakeSend)
	assert.ErrorIs(t, err, ErrHandleNotComparable)
}

func TestSource_Signal(t *testing.T) {
	h := &fakeHandle{}
	src, err := New(h, fakeSend)
	require.NoError(t, err)

	require.NoError(t, src.Signal())
	require.NoError(t, src.Signal())
	assert.Equal(t, int32(2), h.sends.Load())
	assert.Same(t, h, src.Handle())
}

func TestSource_SignalError(t *testing.T) {
	boom := errors.New("boom")
	src, err := New(&fakeHandle{}, func(any) error { return boom })
	require.NoError(t, err)

	err = src.Signal()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSource_Same(t *testing.T) {
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}

	a, err := New(h1, fakeSend)
	require.NoError(t, err)
	b, err := New(h1, fakeSend)
	require.NoError(t, err)
	c, err := New(h2, fakeSend)
	require.NoError(t, err)

	assert.True(t, a.Same(b), "same handle means same source")
	assert.False(t, a.Same(c))
	assert.False(t, a.Same(nil))
}
