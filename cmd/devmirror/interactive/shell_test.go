package interactive

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmirror/devmirror-go/pkg/connection"
	"github.com/devmirror/devmirror-go/pkg/mirror"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// take returns and resets the output so far.
func (b *syncBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// newTestShell returns a shell over an offline mirror with a few entries.
func newTestShell(t *testing.T) (*Shell, *mirror.Mirror, *syncBuffer) {
	t.Helper()
	st := store.New()
	mode := &wire.EnumDefinition{Name: "Mode", Values: map[string]int64{"idle": 0, "run": 1}}
	require.NoError(t, st.Add(store.NewEntry(store.Variable, "v1", "/main/speed", wire.DataTypeSint32, nil)))
	require.NoError(t, st.Add(store.NewEntry(store.Variable, "v2", "/main/mode", wire.DataTypeUint8, mode)))
	require.NoError(t, st.Add(store.NewEntry(store.Variable, "v3", "/main/sub/deep", wire.DataTypeBoolean, nil)))
	st.SetReady(store.Variable)

	config := connection.DefaultConfig()
	config.URL = "ws://127.0.0.1:1"
	mgr, err := connection.NewManager(config, st)
	require.NoError(t, err)
	mi := mirror.New(mgr, nil)

	out := &syncBuffer{}
	return newShell(mi, out), mi, out
}

func TestShellStatusAndCount(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	assert.False(t, s.Execute(ctx, "status"))
	text := out.take()
	assert.Contains(t, text, "Server:")
	assert.Contains(t, text, "DISCONNECTED")
	assert.Contains(t, text, "Downloads:")

	s.Execute(ctx, "count")
	text = out.take()
	assert.Contains(t, text, "CATEGORY")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "3")
	assert.Contains(t, lines[1], "true")
}

func TestShellList(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	s.Execute(ctx, "ls var")
	assert.Contains(t, out.take(), "main/")

	s.Execute(ctx, "ls var /main")
	text := out.take()
	assert.Contains(t, text, "sub/")
	assert.Contains(t, text, "speed")
	assert.Contains(t, text, "sint32")

	s.Execute(ctx, "ls rpv")
	assert.Contains(t, out.take(), "(empty)")

	s.Execute(ctx, "ls var /nowhere")
	assert.Contains(t, out.take(), "Error:")

	s.Execute(ctx, "ls bogus")
	assert.Contains(t, out.take(), "Error:")
}

func TestShellGet(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	s.Execute(ctx, "get var /main/mode")
	text := out.take()
	assert.Contains(t, text, "v2")
	assert.Contains(t, text, "Mode {idle=0, run=1}")

	s.Execute(ctx, "get var")
	assert.Contains(t, out.take(), "usage: get")

	s.Execute(ctx, "get var /missing")
	assert.Contains(t, out.take(), "Error:")
}

func TestShellWatchUnwatch(t *testing.T) {
	s, mi, out := newTestShell(t)
	ctx := context.Background()
	e, err := mi.Store().Get(store.Variable, "/main/speed")
	require.NoError(t, err)

	s.Execute(ctx, "watch var /main/speed")
	assert.Contains(t, out.take(), "Watching /main/speed")
	assert.True(t, mi.Store().IsWatched(e))

	require.NoError(t, mi.Store().SetValue("v1", float64(12)))
	assert.Contains(t, out.take(), "[UPDATE] VARIABLE /main/speed = 12")

	s.Execute(ctx, "unwatch var /main/speed")
	assert.Contains(t, out.take(), "Stopped watching /main/speed")
	assert.False(t, mi.Store().IsWatched(e))

	s.Execute(ctx, "watch var /main/speed")
	s.Execute(ctx, "watch var /main/mode")
	out.take()
	s.Execute(ctx, "unwatch all")
	assert.Contains(t, out.take(), "Stopped watching 2 entries")
	assert.Empty(t, mi.Store().WatchedEntries())
}

func TestShellWriteAndReloadOffline(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	s.Execute(ctx, "write var /main/speed 5")
	assert.Contains(t, out.take(), "not connected")

	s.Execute(ctx, "write var /main/speed notanumber")
	assert.Contains(t, out.take(), "Error:")

	s.Execute(ctx, "write var /main/speed")
	assert.Contains(t, out.take(), "usage: write")

	s.Execute(ctx, "reload rpv")
	assert.Contains(t, out.take(), "not connected")

	s.Execute(ctx, "reload nothing")
	assert.Contains(t, out.take(), "download kind")
}

func TestShellQuitAndUnknown(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	assert.False(t, s.Execute(ctx, "   "))
	assert.False(t, s.Execute(ctx, "frobnicate"))
	assert.Contains(t, out.take(), "Unknown command: frobnicate")

	assert.True(t, s.Execute(ctx, "quit"))
	assert.True(t, s.Execute(ctx, "EXIT"))
}
