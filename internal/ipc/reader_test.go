package ipc

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpp0ca/dabcli/internal/domain"
)

// -- Fake player -------------------------------------------------------------

// socketPath returns a short path; unix socket paths are length-limited.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dabipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "mpv.sock")
}

type fakePlayer struct {
	ln       net.Listener
	commands chan string
}

// startFakePlayer accepts one connection, collects the subscriptions, then
// runs script with the connection.
func startFakePlayer(t *testing.T, path string, script func(conn net.Conn, lines *bufio.Scanner, commands chan<- string)) *fakePlayer {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	fp := &fakePlayer{ln: ln, commands: make(chan string, 16)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		lines := bufio.NewScanner(conn)
		for i := 0; i < 3 && lines.Scan(); i++ {
			fp.commands <- lines.Text()
		}
		script(conn, lines, fp.commands)
	}()
	t.Cleanup(func() { ln.Close() })
	return fp
}

func send(conn net.Conn, lines ...string) {
	for _, l := range lines {
		_, _ = conn.Write([]byte(l + "\n"))
	}
}

func tracks(n int) []domain.Track {
	out := make([]domain.Track, n)
	for i := range out {
		out[i] = domain.Track{ID: string(rune('A' + i)), Title: "Song " + string(rune('A'+i)), Artist: "Band"}
	}
	return out
}

// -- Tests -------------------------------------------------------------------

func TestReader_AppliesPropertyChanges(t *testing.T) {
	path := socketPath(t)
	fp := startFakePlayer(t, path, func(conn net.Conn, _ *bufio.Scanner, _ chan<- string) {
		send(conn,
			`{"data":null,"request_id":0,"error":"success"}`,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":2}`,
			`garbage`,
			`{"event":"property-change","id":2,"name":"playback-time","data":5.9}`,
			`{"event":"property-change","id":3,"name":"pause","data":true}`,
			`{"event":"property-change","id":9,"name":"volume","data":80}`,
		)
	})

	state := NewPlaybackState()
	r := NewReader(path, tracks(3), state)

	var nowPlaying []string
	r.OnNowPlaying(func(_ int, track domain.Track) { nowPlaying = append(nowPlaying, track.Title) })

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, PlaybackSnapshot{CurrentIndex: 2, Elapsed: 5, Paused: true, Started: true}, state.Snapshot())
	assert.Equal(t, []string{"Song C"}, nowPlaying)

	assert.Equal(t, `{"command":["observe_property",1,"playlist-pos"]}`, <-fp.commands)
	assert.Equal(t, `{"command":["observe_property",2,"playback-time"]}`, <-fp.commands)
	assert.Equal(t, `{"command":["observe_property",3,"pause"]}`, <-fp.commands)
}

func TestReader_IndexChangeResetsElapsed(t *testing.T) {
	path := socketPath(t)
	startFakePlayer(t, path, func(conn net.Conn, _ *bufio.Scanner, _ chan<- string) {
		send(conn,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":0}`,
			`{"event":"property-change","id":2,"name":"playback-time","data":42.2}`,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":1}`,
		)
	})

	state := NewPlaybackState()
	require.NoError(t, NewReader(path, tracks(2), state).Run(context.Background()))

	snap := state.Snapshot()
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Equal(t, 0, snap.Elapsed)
}

func TestReader_IgnoresOutOfRangePosition(t *testing.T) {
	path := socketPath(t)
	startFakePlayer(t, path, func(conn net.Conn, _ *bufio.Scanner, _ chan<- string) {
		send(conn,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":-1}`,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":5}`,
			`{"event":"property-change","id":2,"name":"playback-time","data":null}`,
		)
	})

	state := NewPlaybackState()
	require.NoError(t, NewReader(path, tracks(2), state).Run(context.Background()))

	snap := state.Snapshot()
	assert.False(t, snap.HasIndex())
	assert.False(t, snap.Started)
}

func TestReader_MissingSocketGivesUp(t *testing.T) {
	state := NewPlaybackState()
	r := NewReader(filepath.Join(t.TempDir(), "never.sock"), tracks(1), state)
	r.SetRetry(3, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, PlaybackSnapshot{CurrentIndex: NoIndex}, state.Snapshot())
	assert.ErrorIs(t, r.CyclePause(), ErrNotConnected)
}

func TestReader_WaitsForLateSocket(t *testing.T) {
	path := socketPath(t)
	state := NewPlaybackState()
	r := NewReader(path, tracks(1), state)
	r.SetRetry(20, 20*time.Millisecond)

	go func() {
		time.Sleep(60 * time.Millisecond)
		startFakePlayer(t, path, func(conn net.Conn, _ *bufio.Scanner, _ chan<- string) {
			send(conn, `{"event":"property-change","id":1,"name":"playlist-pos","data":0}`)
		})
	}()

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, state.Snapshot().Started)
}

func TestReader_SendsPlaybackCommands(t *testing.T) {
	path := socketPath(t)
	fp := startFakePlayer(t, path, func(conn net.Conn, lines *bufio.Scanner, commands chan<- string) {
		send(conn, `{"event":"property-change","id":1,"name":"playlist-pos","data":0}`)
		for i := 0; i < 2 && lines.Scan(); i++ {
			commands <- lines.Text()
		}
	})

	started := make(chan struct{})
	r := NewReader(path, tracks(1), NewPlaybackState())
	r.OnNowPlaying(func(int, domain.Track) { close(started) })

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never connected")
	}

	require.NoError(t, r.CyclePause())
	require.NoError(t, r.Next())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after player closed")
	}

	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, <-fp.commands)
	}
	assert.Equal(t, `{"command":["cycle","pause"]}`, got[3])
	assert.Equal(t, `{"command":["playlist-next"]}`, got[4])
}

func TestReader_StopsOnContextCancel(t *testing.T) {
	path := socketPath(t)
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	startFakePlayer(t, path, func(net.Conn, *bufio.Scanner, chan<- string) { <-hold })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewReader(path, tracks(1), NewPlaybackState()).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit on cancel")
	}
}

func TestReader_SkipsOversizedMessage(t *testing.T) {
	path := socketPath(t)
	huge := `{"event":"log-message","text":"` + strings.Repeat("x", 2*maxLineSize) + `"}`
	startFakePlayer(t, path, func(conn net.Conn, _ *bufio.Scanner, _ chan<- string) {
		send(conn,
			huge,
			`{"event":"property-change","id":1,"name":"playlist-pos","data":1}`,
		)
	})

	state := NewPlaybackState()
	require.NoError(t, NewReader(path, tracks(2), state).Run(context.Background()))

	snap := state.Snapshot()
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.True(t, snap.Started)
}

func TestReadLines(t *testing.T) {
	input := "one\r\n" + strings.Repeat("y", maxLineSize+10) + "\ntwo\n\nthree"

	var got []string
	require.NoError(t, readLines(strings.NewReader(input), func(line []byte) {
		got = append(got, string(line))
	}))

	assert.Equal(t, []string{"one", "two", "three"}, got)
}
