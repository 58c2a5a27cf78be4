package control

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_PauseAndStop(t *testing.T) {
	r, w := io.Pipe()
	state := NewState()
	l := NewListener(r, state)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	_, err := w.Write([]byte("p"))
	require.NoError(t, err)
	assert.Eventually(t, state.Paused, time.Second, 5*time.Millisecond)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	_, err = w.Write([]byte("P"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !state.Paused() }, time.Second, 5*time.Millisecond)

	_, err = w.Write([]byte("q"))
	require.NoError(t, err)
	assert.Eventually(t, state.Stopped, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not exit on EOF")
	}
}

func TestListener_DoublePauseLeavesUnpaused(t *testing.T) {
	state := NewState()
	l := NewListener(strings.NewReader("pp"), state)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, Snapshot{}, state.Snapshot())
}

func TestListener_ExitsOnContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewListener(r, NewState()).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not exit on cancel")
	}
}

func TestListener_ReusedAcrossRequests(t *testing.T) {
	state := NewState()
	require.NoError(t, NewListener(strings.NewReader("q"), state).Run(context.Background()))
	assert.True(t, state.Stopped())

	state.Reset()
	assert.False(t, state.Stopped())
}

func TestListener_AppliesSubmittedIntents(t *testing.T) {
	state := NewState()
	l := NewListener(nil, state)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.TogglePause(context.Background()))
	assert.Equal(t, Snapshot{Paused: true}, l.Snapshot())

	require.NoError(t, l.Stop(context.Background()))
	assert.True(t, state.Stopped())

	cancel()
	require.NoError(t, <-done)
}

func TestListener_SubmitAfterExit(t *testing.T) {
	l := NewListener(strings.NewReader(""), NewState())
	require.NoError(t, l.Run(context.Background()))

	assert.ErrorIs(t, l.Submit(context.Background(), KeyPause), ErrNotListening)
}

func TestListener_SubmitWithoutRunHonoursContext(t *testing.T) {
	l := NewListener(nil, NewState())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Submit(ctx, KeyStop), context.DeadlineExceeded)
}
