// Command render writes a formula to a WAV file without touching any audio
// device.
package main

import (
	"flag"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
	"github.com/satindergrewal/livewave/internal/config"
	"github.com/satindergrewal/livewave/internal/formula"
	"github.com/satindergrewal/livewave/internal/logger"
)

func main() {
	cfg := config.Load()

	var (
		src     = flag.String("formula", cfg.Formula, "formula source")
		file    = flag.String("file", "", "read the formula from this file instead")
		out     = flag.String("out", "out.wav", "output WAV path")
		start   = flag.Float64("start", 0, "start time in seconds")
		seconds = flag.Float64("seconds", cfg.DurationSeconds, "length in seconds")
	)
	flag.Parse()

	log := logger.New(logger.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "livewave-render",
	})
	defer log.Sync()

	text := *src
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal("read formula file", zap.Error(err))
		}
		text = string(data)
	}

	f, err := formula.Compile(text)
	if err != nil {
		log.Fatal("formula rejected", zap.Error(err))
	}

	n, err := renderWAV(*out, f, cfg.SampleRate, cfg.BlockSize, *start, *seconds)
	if err != nil {
		log.Fatal("render", zap.Error(err))
	}
	log.Info("rendered",
		zap.String("out", *out),
		zap.Int("samples", n),
		zap.Int("sample_rate", cfg.SampleRate))
}

// renderWAV writes 16-bit stereo PCM and returns the number of frames written.
func renderWAV(path string, f audio.Evaluator, sampleRate, blockSize int, start, seconds float64) (int, error) {
	fh, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer fh.Close()

	enc := wav.NewEncoder(fh, sampleRate, 16, audio.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}

	frames := 0
	err = audio.Render(f, sampleRate, blockSize, start, seconds, func(b *audio.Block) error {
		pcm := audio.ToInt16(audio.Interleave(b.Samples))
		buf.Data = buf.Data[:0]
		for _, s := range pcm {
			buf.Data = append(buf.Data, int(s))
		}
		frames += len(b.Samples)
		return enc.Write(buf)
	})
	if err != nil {
		return frames, fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return frames, fmt.Errorf("finish wav: %w", err)
	}
	return frames, nil
}
