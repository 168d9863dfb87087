package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/formula"
	"github.com/satindergrewal/livewave/internal/metrics"
)

// Evaluator computes one sample value for time t.
type Evaluator interface {
	Eval(t float64) (float64, error)
}

// Generate renders req.BlockSize samples of f starting at req.CurrentTime.
// A sample whose evaluation fails or is not finite is written as silence;
// the block always has exactly req.BlockSize samples.
func Generate(req GenerationRequest, f Evaluator) *Block {
	samples := make([]float32, req.BlockSize)
	rate := float64(req.SampleRate)
	faults := 0
	for i := range samples {
		v, ok := evalSample(f, req.CurrentTime+float64(i)/rate)
		if !ok {
			faults++
			continue
		}
		samples[i] = v
	}
	if faults > 0 {
		metrics.SampleFaults.Add(float64(faults))
	}
	return &Block{
		Samples:   samples,
		StartTime: req.CurrentTime,
		EndTime:   req.CurrentTime + BlockDuration(req.BlockSize, req.SampleRate),
		epoch:     req.epoch,
	}
}

// evalSample reports ok only for values that stay finite as float32, so a
// finite result beyond float32 range counts as a fault rather than +-Inf.
func evalSample(f Evaluator, t float64) (s float32, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s, ok = 0, false
		}
	}()
	v, err := f.Eval(t)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	s = float32(v)
	if math.IsInf(float64(s), 0) {
		return 0, false
	}
	return s, true
}

// Generator owns the current formula and renders blocks on request. It runs
// in its own goroutine so a slow formula only delays block availability.
type Generator struct {
	sandbox *formula.Sandbox
	log     *zap.Logger
}

// NewGenerator creates a generator with no formula.
func NewGenerator(log *zap.Logger) *Generator {
	return &Generator{
		sandbox: formula.NewSandbox(),
		log:     log.With(zap.String("component", "generator")),
	}
}

// Run handles messages from in until ctx is cancelled or in is closed,
// writing one Event per Message to out. out is closed on return.
func (g *Generator) Run(ctx context.Context, in <-chan Message, out chan<- Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			ev := g.handle(msg)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Generator) handle(msg Message) Event {
	switch msg.Kind {
	case MsgSetFormula:
		return g.setFormula(msg.Source)
	case MsgGenerationRequested:
		return g.generate(msg.Request)
	default:
		panic(fmt.Sprintf("generator: unexpected message %v", msg.Kind))
	}
}

func (g *Generator) setFormula(source string) Event {
	_, err := g.sandbox.Apply(source)
	if err != nil {
		reason := err.Error()
		var rej *formula.RejectedError
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		metrics.Formulas.WithLabelValues("rejected").Inc()
		g.log.Info("formula rejected", zap.String("reason", reason))
		return Event{Kind: EventFormulaRejected, Source: source, Reason: reason}
	}
	metrics.Formulas.WithLabelValues("accepted").Inc()
	g.log.Info("formula accepted", zap.Int("length", len(source)))
	return Event{Kind: EventFormulaAccepted, Source: source}
}

func (g *Generator) generate(req GenerationRequest) Event {
	f := g.sandbox.Current()
	if f == nil {
		return Event{Kind: EventAudioBlockReady, Request: req}
	}
	start := time.Now()
	block := Generate(req, f)
	elapsed := time.Since(start)

	metrics.BlocksGenerated.Inc()
	metrics.GenerationDuration.Observe(elapsed.Seconds())
	if elapsed > block.Duration() {
		g.log.Warn("generation slower than real time",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", block.Duration()))
	}
	return Event{Kind: EventAudioBlockReady, Request: req, Block: block}
}
