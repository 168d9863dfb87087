package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/metrics"
)

var (
	// ErrDeviceUnavailable wraps failures to acquire the output device.
	ErrDeviceUnavailable = errors.New("output device unavailable")
	// ErrEngineClosed is returned once Run has returned.
	ErrEngineClosed = errors.New("engine closed")
)

// Device is an output that pulls audio by calling process once per block
// from its own real-time context, with one block-sized buffer per channel.
type Device interface {
	Open(ctx context.Context, sampleRate, blockSize int, process func(left, right []float32)) error
	Close() error
}

// Options configures an Engine.
type Options struct {
	SampleRate      int
	BlockSize       int
	FrameLength     int
	DurationSeconds float64
	QueueDepth      int
	MaxInFlight     int
	FlushOnSeek     bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		SampleRate:      DefaultSampleRate,
		BlockSize:       DefaultBlockSize,
		FrameLength:     DefaultFrameLength,
		DurationSeconds: DefaultDuration,
		QueueDepth:      8,
		MaxInFlight:     1,
		FlushOnSeek:     true,
	}
}

// NotificationKind identifies what a Notification carries.
type NotificationKind string

const (
	NotifyFormulaAccepted NotificationKind = "formula_accepted"
	NotifyFormulaRejected NotificationKind = "formula_rejected"
	NotifyFrame           NotificationKind = "frame"
)

// Notification is pushed to the UI layer.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Source   string           `json:"source,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Frame    Frame            `json:"frame,omitempty"`
	Position float64          `json:"position"`
}

// Status is a snapshot of the whole engine.
type Status struct {
	TransportStatus
	Queued    int    `json:"queued"`
	Underruns uint64 `json:"underruns"`
	Played    uint64 `json:"played"`
	Formula   string `json:"formula"`
	LastGood  string `json:"last_good"`
}

// Engine wires generator, queue, consumer and transport together and is the
// control surface for the UI layer. Run must be running for formulas to be
// compiled and blocks to be produced.
type Engine struct {
	opts   Options
	log    *zap.Logger
	device Device

	transport *Transport
	queue     *Queue
	generator *Generator
	consumer  *Consumer

	toGen   chan Message
	fromGen chan Event
	tap     chan *Block
	notes   chan Notification
	output  chan *Block

	// admit orders queue admission against seek and pause, so a block
	// classified as current is never pushed after the epoch moved on.
	admit sync.Mutex

	mu       sync.Mutex
	closed   bool
	formula  string
	lastGood string
}

// NewEngine creates a stopped engine that will play through dev.
func NewEngine(opts Options, dev Device, log *zap.Logger) *Engine {
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	if opts.QueueDepth < opts.MaxInFlight {
		opts.QueueDepth = opts.MaxInFlight
	}
	e := &Engine{
		opts:      opts,
		log:       log.With(zap.String("component", "engine")),
		device:    dev,
		transport: NewTransport(opts.SampleRate, opts.BlockSize, opts.DurationSeconds),
		queue:     NewQueue(opts.QueueDepth),
		generator: NewGenerator(log),
		toGen:     make(chan Message, opts.MaxInFlight+8),
		fromGen:   make(chan Event, opts.MaxInFlight+8),
		tap:       make(chan *Block, opts.QueueDepth),
		notes:     make(chan Notification, 64),
		output:    make(chan *Block, opts.QueueDepth),
	}
	e.consumer = NewConsumer(e.queue, e.transport, e.request, e.tap, log)
	return e
}

// Notifications delivers formula outcomes and visualization frames. Slow
// readers lose frames rather than stalling playback.
func (e *Engine) Notifications() <-chan Notification {
	return e.notes
}

// Output delivers every block after it reached the device, for remote
// listeners. Blocks are shared read-only.
func (e *Engine) Output() <-chan *Block {
	return e.output
}

// Run starts the generator and blocks until ctx is cancelled. On return the
// device is released and both outgoing channels are closed.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.generator.Run(ctx, e.toGen, e.fromGen)
	}()
	go func() {
		defer wg.Done()
		e.dispatch()
	}()

	tapDone := make(chan struct{})
	go func() {
		defer close(tapDone)
		e.sample()
	}()

	<-ctx.Done()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if err := e.Pause(); err != nil {
		e.log.Warn("release device on shutdown", zap.Error(err))
	}

	wg.Wait()
	close(e.tap)
	<-tapDone
	close(e.notes)
	close(e.output)
}

// SetFormula submits new formula text. The outcome arrives later as a
// NotifyFormulaAccepted or NotifyFormulaRejected notification; until then the
// previous formula keeps playing.
func (e *Engine) SetFormula(ctx context.Context, text string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.formula = text
	e.mu.Unlock()

	select {
	case e.toGen <- Message{Kind: MsgSetFormula, Source: text}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play acquires the device and starts the consumer. A device failure leaves
// the engine stopped and is returned wrapped in ErrDeviceUnavailable.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.transport.IsPlaying() {
		return nil
	}

	e.transport.setPlaying(true)
	err := e.device.Open(ctx, e.opts.SampleRate, e.opts.BlockSize, e.consumer.Process)
	if err != nil {
		e.transport.setPlaying(false)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	e.log.Info("playback started", zap.Float64("position", e.transport.Position()))
	return nil
}

// Pause stops the consumer and releases the device. Queued and in-flight
// blocks are discarded; the next Play resumes from the playhead.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.transport.IsPlaying() {
		return nil
	}

	err := e.device.Close()
	e.admit.Lock()
	e.transport.setPlaying(false)
	e.transport.rewind()
	dropped := e.queue.Drain()
	e.admit.Unlock()
	if dropped > 0 {
		metrics.DroppedBlocks.WithLabelValues("stopped").Add(float64(dropped))
	}
	e.log.Info("playback stopped",
		zap.Float64("position", e.transport.Position()),
		zap.Int("dropped", dropped))
	if err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	return nil
}

// Seek moves playback to position (0..1 of the duration, clamped) and
// returns the new time in seconds.
func (e *Engine) Seek(position float64) float64 {
	e.admit.Lock()
	t := e.transport.Seek(position)
	if e.opts.FlushOnSeek {
		if n := e.queue.Drain(); n > 0 {
			metrics.DroppedBlocks.WithLabelValues("seek").Add(float64(n))
		}
	}
	e.admit.Unlock()
	e.log.Debug("seek", zap.Float64("position", position), zap.Float64("time", t))
	return t
}

// Duration returns the seekable length in seconds.
func (e *Engine) Duration() float64 {
	return e.transport.Duration()
}

// IsPlaying reports whether the device is running.
func (e *Engine) IsPlaying() bool {
	return e.transport.IsPlaying()
}

// Position returns the playhead in seconds.
func (e *Engine) Position() float64 {
	return e.transport.Position()
}

// LastGood returns the source of the most recently accepted formula.
func (e *Engine) LastGood() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGood
}

// Status returns a snapshot for the UI layer.
func (e *Engine) Status() Status {
	e.mu.Lock()
	formula, lastGood := e.formula, e.lastGood
	e.mu.Unlock()
	return Status{
		TransportStatus: e.transport.Status(),
		Queued:          e.queue.Len(),
		Underruns:       e.consumer.Underruns(),
		Played:          e.consumer.Played(),
		Formula:         formula,
		LastGood:        lastGood,
	}
}

// request is called from the device callback and must not block.
func (e *Engine) request() {
	req, ok := e.transport.next(e.opts.MaxInFlight)
	if !ok {
		return
	}
	select {
	case e.toGen <- Message{Kind: MsgGenerationRequested, Request: req}:
	default:
		e.transport.cancel(req)
	}
}

// dispatch applies generator events until the generator stops.
func (e *Engine) dispatch() {
	for ev := range e.fromGen {
		switch ev.Kind {
		case EventFormulaAccepted:
			e.mu.Lock()
			e.lastGood = ev.Source
			e.mu.Unlock()
			e.notify(Notification{Kind: NotifyFormulaAccepted, Source: ev.Source})
		case EventFormulaRejected:
			e.notify(Notification{Kind: NotifyFormulaRejected, Source: ev.Source, Reason: ev.Reason})
		case EventAudioBlockReady:
			e.accept(ev)
		}
	}
}

func (e *Engine) accept(ev Event) {
	e.admit.Lock()
	defer e.admit.Unlock()
	state := e.transport.complete(ev.Request, ev.Block)
	if ev.Block == nil {
		return
	}
	switch {
	case state == completionDiscarded || !e.transport.IsPlaying():
		metrics.DroppedBlocks.WithLabelValues("stopped").Inc()
		return
	case state == completionStale && e.opts.FlushOnSeek:
		metrics.DroppedBlocks.WithLabelValues("seek").Inc()
		return
	}
	if err := e.queue.Push(ev.Block); err != nil {
		metrics.DroppedBlocks.WithLabelValues("overflow").Inc()
		e.log.Warn("dropping block", zap.Error(err), zap.Float64("start", ev.Block.StartTime))
	}
}

// sample turns emitted blocks into visualization frames off the real-time path.
func (e *Engine) sample() {
	for b := range e.tap {
		e.notify(Notification{
			Kind:     NotifyFrame,
			Frame:    Downsample(b.Samples, e.opts.FrameLength),
			Position: e.transport.Position(),
		})
		select {
		case e.output <- b:
		default:
		}
	}
}

func (e *Engine) notify(n Notification) {
	select {
	case e.notes <- n:
	default:
		e.log.Debug("notification dropped", zap.String("kind", string(n.Kind)))
	}
}
