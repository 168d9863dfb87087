package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
	"github.com/satindergrewal/livewave/internal/config"
	"github.com/satindergrewal/livewave/internal/device"
	"github.com/satindergrewal/livewave/internal/logger"
	"github.com/satindergrewal/livewave/internal/stream"
	"github.com/satindergrewal/livewave/internal/watch"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		ServiceName: "livewave",
	})
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dev, err := device.New(cfg.Device, log)
	if err != nil {
		log.Fatal("output device", zap.Error(err))
	}

	engine := audio.NewEngine(audio.Options{
		SampleRate:      cfg.SampleRate,
		BlockSize:       cfg.BlockSize,
		FrameLength:     cfg.FrameLength,
		DurationSeconds: cfg.DurationSeconds,
		QueueDepth:      cfg.QueueDepth,
		MaxInFlight:     cfg.MaxInFlight,
		FlushOnSeek:     cfg.FlushOnSeek,
	}, dev, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	if err := engine.SetFormula(ctx, cfg.Formula); err != nil {
		log.Fatal("initial formula", zap.Error(err))
	}

	// Broadcasters: fan-out emitted audio and UI notifications
	blocks := stream.NewBroadcaster[*audio.Block](32)
	go blocks.Run(ctx, engine.Output())
	notes := stream.NewBroadcaster[audio.Notification](64)
	go notes.Run(ctx, engine.Notifications())

	if cfg.FormulaFile != "" {
		fw, err := watch.New(cfg.FormulaFile, engine.SetFormula, log)
		if err != nil {
			log.Fatal("formula file watcher", zap.Error(err))
		}
		go fw.Run(ctx)
	}

	webrtcHandler := stream.NewWebRTCHandler(blocks, cfg.SampleRate, cfg.BlockSize, log)
	wsHandler := stream.NewWSHandler(notes, engine, log)

	// HTTP routes
	mux := http.NewServeMux()

	mux.Handle("/stream", stream.NewHTTPHandler(blocks, cfg.SampleRate, log))
	mux.Handle("/offer", webrtcHandler)
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"engine":           engine.Status(),
			"device":           cfg.Device,
			"http_listeners":   blocks.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
			"ws_clients":       wsHandler.ClientCount(),
			"config": map[string]any{
				"sample_rate":   cfg.SampleRate,
				"block_size":    cfg.BlockSize,
				"frame_length":  cfg.FrameLength,
				"queue_depth":   cfg.QueueDepth,
				"max_inflight":  cfg.MaxInFlight,
				"flush_on_seek": cfg.FlushOnSeek,
			},
		})
	})

	mux.HandleFunc("/api/play", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := engine.Play(r.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, audio.ErrDeviceUnavailable) {
				status = http.StatusServiceUnavailable
			}
			log.Warn("play failed", zap.Error(err))
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "playing": engine.IsPlaying()})
	})

	mux.HandleFunc("/api/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := engine.Pause(); err != nil {
			log.Warn("pause failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "playing": engine.IsPlaying()})
	})

	mux.HandleFunc("/api/seek", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Position *float64 `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
			http.Error(w, "invalid position", http.StatusBadRequest)
			return
		}
		t := engine.Seek(*req.Position)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": t, "duration": engine.Duration()})
	})

	mux.HandleFunc("/api/formula", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Formula string `json:"formula"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid formula", http.StatusBadRequest)
			return
		}
		if err := engine.SetFormula(r.Context(), req.Formula); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		// The compile result arrives on /ws.
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/revert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		last := engine.LastGood()
		if last == "" {
			http.Error(w, "no accepted formula yet", http.StatusConflict)
			return
		}
		if err := engine.SetFormula(r.Context(), last); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "formula": last})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		server.Close()
	}()

	log.Info("livewave live", zap.String("addr", addr), zap.String("device", cfg.Device))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("http server", zap.Error(err))
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
