// Command earshot runs a standalone voice loop: it listens on the default
// microphone, detects utterances, and exposes health and metrics endpoints.
// Completed utterances are logged; embedders would forward them to their own
// transport instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/health"
	"github.com/earshot-ai/earshot/internal/observe"
	malgodev "github.com/earshot-ai/earshot/pkg/audio/malgo"
	"github.com/earshot-ai/earshot/pkg/voice"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; flags and the config file are the real interface.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "earshot: load .env: %v\n", err)
		return 1
	}

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	playRef := flag.String("play", "", "optional WAV file played on startup (barge-in demo)")
	meter := flag.Bool("meter", false, "render a live input level meter on stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	sess := voice.NewSession(cfg, voice.Options{
		Capture:  malgodev.NewCaptureDevice(),
		Playback: malgodev.NewPlaybackDevice(),
		Metrics:  metrics,
	})

	sess.OnSpeechEnded(func(u voice.Utterance) {
		slog.Info("utterance captured",
			"id", u.ID,
			"bytes", len(u.Audio),
			"chunks", u.Chunks,
			"speech_duration", u.SpeechDuration,
		)
	})

	if *meter {
		// Logs go to stderr, so the meter owns stdout.
		sess.OnAudioLevelChange(func(lvl float64) {
			fmt.Printf("\r%s %5.3f", levelMeter(lvl, 30), lvl)
		})
	}

	// Log speaking transitions; the per-tick snapshots stay at debug volume.
	var wasSpeaking bool
	sess.OnVADStateChange(func(st voice.VADState) {
		if st.Speaking != wasSpeaking {
			wasSpeaking = st.Speaking
			slog.Info("vad transition", "speaking", st.Speaking, "level", st.Level)
		}
	})

	// Hot-reload the config file: detector tuning, volume, and the log level
	// apply live; the rest is picked up on the next capture restart.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "log_level", d.NewLogLevel)
		}
		sess.Apply(d)
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start capture", "err", err)
		return 1
	}

	if *playRef != "" {
		sess.PlayTTS(ctx, *playRef)
	}

	srv := newServer(cfg.Server.ListenAddr, metrics, sess)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	slog.Info("listening — press Ctrl+C to shut down")
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Close(sctx); err != nil {
		slog.Error("session close error", "err", err)
	}
	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newServer builds the HTTP surface: Prometheus metrics plus liveness and
// readiness probes, all instrumented with the request-duration middleware.
func newServer(addr string, metrics *observe.Metrics, sess *voice.Session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "capture", Check: func(context.Context) error {
			if !sess.IsCapturing() {
				return errors.New("capture session not active")
			}
			return nil
		}},
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// levelMeter renders lvl in [0, 1] as a fixed-width bar.
func levelMeter(lvl float64, width int) string {
	n := int(lvl * float64(width))
	if n > width {
		n = width
	}
	if n < 0 {
		n = 0
	}
	return "[" + strings.Repeat("█", n) + strings.Repeat(" ", width-n) + "]"
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
