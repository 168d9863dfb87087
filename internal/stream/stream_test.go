package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

func TestFramerRegroups(t *testing.T) {
	f := newFramer(4)
	var got [][]float32
	emit := func(frame []float32) error {
		got = append(got, append([]float32(nil), frame...))
		return nil
	}

	require.NoError(t, f.push([]float32{1, 2, 3}, emit))
	assert.Empty(t, got)
	require.NoError(t, f.push([]float32{4, 5, 6, 7, 8, 9}, emit))
	assert.Equal(t, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}, got)
	assert.Equal(t, []float32{9}, f.buf)
}

func TestFramerStopsOnError(t *testing.T) {
	f := newFramer(2)
	boom := errors.New("closed")
	err := f.push([]float32{1, 2, 3, 4}, func([]float32) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestResamplerPassthrough(t *testing.T) {
	rs, err := NewResampler(48000, 48000, 1024)
	require.NoError(t, err)
	in := []float32{0.1, 0.2}
	out, err := rs.Process(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.NoError(t, rs.Close())
}

func TestResamplerRatio(t *testing.T) {
	rs, err := NewResampler(44100, OpusSampleRate, 4096)
	require.NoError(t, err)
	defer rs.Close()

	block := make([]float32, 4096)
	total := 0
	for i := 0; i < 20; i++ {
		out, err := rs.Process(block)
		require.NoError(t, err)
		total += len(out)
	}
	want := 20 * 4096 * OpusSampleRate / 44100
	assert.InEpsilon(t, want, total, 0.05)
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs(22050), " ")
	assert.Contains(t, args, "-f f32le -ar 22050 -ac 1 -i pipe:0")
	assert.True(t, strings.HasSuffix(args, "pipe:1"))
}

type fakeControl struct {
	mu       sync.Mutex
	formulas []string
	plays    int
	pauses   int
	seeks    []float64
}

func (f *fakeControl) SetFormula(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formulas = append(f.formulas, text)
	return nil
}

func (f *fakeControl) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeControl) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeControl) Seek(position float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, position)
	return position * 10
}

func dialWS(t *testing.T, h *WSHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSPushesNotifications(t *testing.T) {
	b := NewBroadcaster[audio.Notification](8)
	h := NewWSHandler(b, &fakeControl{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan audio.Notification, 1)
	go b.Run(ctx, source)

	conn := dialWS(t, h)
	require.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.ClientCount())

	source <- audio.Notification{Kind: audio.NotifyFormulaRejected, Source: "bad(", Reason: "unexpected EOF"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got audio.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, audio.NotifyFormulaRejected, got.Kind)
	assert.Equal(t, "unexpected EOF", got.Reason)
}

func TestWSAppliesCommands(t *testing.T) {
	ctl := &fakeControl{}
	h := NewWSHandler(NewBroadcaster[audio.Notification](8), ctl, zap.NewNop())
	conn := dialWS(t, h)

	require.NoError(t, conn.WriteJSON(Command{Type: "formula", Formula: "sin(t)"}))
	require.NoError(t, conn.WriteJSON(Command{Type: "play"}))
	require.NoError(t, conn.WriteJSON(Command{Type: "seek", Position: 0.5}))
	require.NoError(t, conn.WriteJSON(Command{Type: "pause"}))
	require.NoError(t, conn.WriteJSON(Command{Type: "rewind"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Kind)
	assert.Contains(t, reply.Reason, "rewind")

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Equal(t, []string{"sin(t)"}, ctl.formulas)
	assert.Equal(t, 1, ctl.plays)
	assert.Equal(t, 1, ctl.pauses)
	assert.Equal(t, []float64{0.5}, ctl.seeks)
}
