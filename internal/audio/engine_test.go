package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/metrics"
)

func zapNop() *zap.Logger { return zap.NewNop() }

// fakeDevice lets a test drive the callback by hand.
type fakeDevice struct {
	mu        sync.Mutex
	process   func(left, right []float32)
	blockSize int
	openErr   error
	opens     int
	closes    int
}

func (d *fakeDevice) Open(_ context.Context, _, blockSize int, process func(left, right []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.process = process
	d.blockSize = blockSize
	d.opens++
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.process = nil
	d.closes++
	return nil
}

// cycle runs one callback and reports whether anything non-silent came out.
func (d *fakeDevice) cycle() ([]float32, bool) {
	d.mu.Lock()
	process, n := d.process, d.blockSize
	d.mu.Unlock()
	if process == nil {
		return nil, false
	}
	left, right := make([]float32, n), make([]float32, n)
	process(left, right)
	for _, s := range left {
		if s != 0 {
			return left, true
		}
	}
	return left, false
}

func droppedBlocks(t *testing.T, reason string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.DroppedBlocks.WithLabelValues(reason).Write(&m))
	return m.GetCounter().GetValue()
}

// untilHeard cycles the device until a non-silent block comes out.
func untilHeard(t *testing.T, dev *fakeDevice) []float32 {
	t.Helper()
	for i := 0; i < 400; i++ {
		if left, heard := dev.cycle(); heard {
			return left
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("consumer never emitted a generated block")
	return nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BlockSize = 512
	opts.FrameLength = 32
	return opts
}

func startEngine(t *testing.T, dev Device) (*Engine, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(testOptions(), dev, zapNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop after cancel")
		}
	})
	return e, cancel
}

func waitNotification(t *testing.T, e *Engine, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-e.Notifications():
			require.True(t, ok, "notifications closed")
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestEngineFormulaNotifications(t *testing.T) {
	e, _ := startEngine(t, &fakeDevice{})
	ctx := context.Background()

	require.NoError(t, e.SetFormula(ctx, "sin(t)"))
	n := waitNotification(t, e, NotifyFormulaAccepted)
	assert.Equal(t, "sin(t)", n.Source)
	assert.Equal(t, "sin(t)", e.LastGood())

	require.NoError(t, e.SetFormula(ctx, `throw new Error("x")`))
	n = waitNotification(t, e, NotifyFormulaRejected)
	assert.Contains(t, n.Reason, "x")
	assert.Equal(t, "sin(t)", e.LastGood(), "rejected formula does not replace last good")

	st := e.Status()
	assert.Equal(t, `throw new Error("x")`, st.Formula)
	assert.Equal(t, "sin(t)", st.LastGood)
}

func TestEnginePlaysAfterUnderrun(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := startEngine(t, dev)
	ctx := context.Background()

	require.NoError(t, e.SetFormula(ctx, "sin(t * 440 * 2 * PI)"))
	waitNotification(t, e, NotifyFormulaAccepted)

	require.NoError(t, e.Play(ctx))
	assert.True(t, e.IsPlaying())
	require.NoError(t, e.Play(ctx), "play is idempotent")
	assert.Equal(t, 1, dev.opens)

	var heard bool
	for i := 0; i < 400 && !heard; i++ {
		_, heard = dev.cycle()
		if !heard {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.True(t, heard, "consumer never emitted a generated block")
	assert.GreaterOrEqual(t, e.Status().Underruns, uint64(1))

	frame := waitNotification(t, e, NotifyFrame)
	assert.Len(t, frame.Frame, 32)

	select {
	case b := <-e.Output():
		assert.Len(t, b.Samples, 512)
	case <-time.After(time.Second):
		t.Fatal("emitted block not forwarded to output")
	}

	require.NoError(t, e.Pause())
	assert.False(t, e.IsPlaying())
	assert.Equal(t, 1, dev.closes)
	assert.Equal(t, 0, e.Status().Queued)
	require.NoError(t, e.Pause(), "pause is idempotent")
}

func TestEnginePlayDeviceFailure(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("permission denied")}
	e, _ := startEngine(t, dev)

	err := e.Play(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, e.IsPlaying())
}

func TestEngineSeek(t *testing.T) {
	e, _ := startEngine(t, &fakeDevice{})
	assert.Equal(t, DefaultDuration, e.Duration())
	assert.Equal(t, 0.0, e.Seek(0))
	assert.Equal(t, DefaultDuration, e.Seek(1))
	assert.Equal(t, 0.0, e.Seek(-3))
	assert.Equal(t, DefaultDuration/2, e.Seek(0.5))
	assert.Equal(t, DefaultDuration/2, e.Position())
}

func TestEngineSeekWhilePlayingFlushes(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := startEngine(t, dev)
	ctx := context.Background()

	// The sample value equals its time, so every block tells where it came from.
	require.NoError(t, e.SetFormula(ctx, "t"))
	waitNotification(t, e, NotifyFormulaAccepted)
	require.NoError(t, e.Play(ctx))

	first := untilHeard(t, dev)
	assert.Less(t, first[len(first)-1], float32(1))
	before := droppedBlocks(t, "seek")

	// The last cycle left one request outstanding; it must not play after the seek.
	assert.Equal(t, 5.0, e.Seek(0.5))
	assert.Equal(t, 5.0, e.Position())
	require.Eventually(t, func() bool {
		return droppedBlocks(t, "seek") >= before+1
	}, 2*time.Second, 5*time.Millisecond, "pre-seek block not counted as dropped")

	var left []float32
	for i := 0; i < 400; i++ {
		var heard bool
		left, heard = dev.cycle()
		if heard {
			break
		}
		assert.Equal(t, 5.0, e.Position(), "silence must not move the playhead")
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, left)
	assert.InDelta(t, 5.0, left[0], 1e-6, "first block after seek starts at 5s")
	assert.InDelta(t, 5.0+511.0/44100, left[511], 1e-5)
	assert.InDelta(t, 5.0+BlockDuration(512, 44100), e.Position(), 1e-9)
}

func TestEngineFormulaSwapDuringPlayback(t *testing.T) {
	dev := &fakeDevice{}
	e, _ := startEngine(t, dev)
	ctx := context.Background()

	require.NoError(t, e.SetFormula(ctx, "1"))
	waitNotification(t, e, NotifyFormulaAccepted)
	require.NoError(t, e.Play(ctx))
	untilHeard(t, dev)

	require.NoError(t, e.SetFormula(ctx, "-1"))

	swapped := false
	for i := 0; i < 400 && !swapped; i++ {
		left, heard := dev.cycle()
		if !heard {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		want := left[0]
		require.Contains(t, []float32{1, -1}, want)
		for j, s := range left {
			require.Equal(t, want, s, "block mixes formulas at sample %d", j)
		}
		swapped = want == -1
	}
	require.True(t, swapped, "new formula never reached the device")

	// Once the new formula is heard the old one never comes back.
	for i := 0; i < 20; i++ {
		if left, heard := dev.cycle(); heard {
			assert.Equal(t, float32(-1), left[0])
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, "-1", e.LastGood())
}

func TestEngineAcceptNeverQueuesAcrossSeek(t *testing.T) {
	e := NewEngine(testOptions(), &fakeDevice{}, zapNop())
	e.transport.setPlaying(true)
	f := mustCompile(t, "t")

	for i := 0; i < 200; i++ {
		req, ok := e.transport.next(1)
		require.True(t, ok)
		ev := Event{Kind: EventAudioBlockReady, Request: req, Block: Generate(req, f)}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.accept(ev)
		}()
		go func() {
			defer wg.Done()
			e.Seek(0.5)
		}()
		wg.Wait()

		// Either the seek flushed the block or it was refused as stale.
		assert.Zero(t, e.queue.Len(), "iteration %d", i)
		e.queue.Drain()
	}
}

func TestEngineClosedAfterRun(t *testing.T) {
	e := NewEngine(testOptions(), &fakeDevice{}, zapNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	cancel()
	<-done

	_, ok := <-e.Notifications()
	assert.False(t, ok)
	_, ok = <-e.Output()
	assert.False(t, ok)
	assert.ErrorIs(t, e.Play(context.Background()), ErrEngineClosed)
	assert.ErrorIs(t, e.SetFormula(context.Background(), "t"), ErrEngineClosed)
}
