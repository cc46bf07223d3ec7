// Command recorder runs the session recorder as a standalone agent: it
// loads a YAML config, replays a JSONL event stream through the recorder,
// re-initializes when the watched config changes, and serves Prometheus
// metrics.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracewell/recorder"
	"github.com/tracewell/recorder/internal/config"
)

func main() {
	cfgPath := flag.String("config", "configs/recorder.yaml", "Path to recorder YAML config")
	eventsPath := flag.String("events", "-", "JSONL event stream to replay ('-' for stdin)")
	statePath := flag.String("state", "recorder-state.db", "Path to the identity store database")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	// ── Identity store ────────────────────────────────────────────────────────
	store, err := recorder.NewSQLiteStore(*statePath)
	if err != nil {
		slog.Error("failed to open identity store", "err", err)
		os.Exit(1)
	}

	// ── Recorder ──────────────────────────────────────────────────────────────
	rec := recorder.New(
		recorder.WithLogger(logger),
		recorder.WithStore(store),
	)
	recorder.SetDefault(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rec.Init(ctx, *cfg); err != nil {
		slog.Error("recorder init failed", "err", err)
		os.Exit(1)
	}
	slog.Info("recorder started", "projectId", cfg.ProjectID, "sessionId", rec.SessionID())

	// ── Config watcher: a changed project restarts the session ───────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := rec.Init(ctx, *newCfg); err != nil {
			slog.Warn("re-init skipped: config invalid", "err", err)
			return
		}
		slog.Info("recorder re-initialized", "projectId", newCfg.ProjectID, "sessionId", rec.SessionID())
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot re-init disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.Status())
	})
	srv := &http.Server{
		Addr:         *metricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", "addr", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()

	// ── Event replay ──────────────────────────────────────────────────────────
	go func() {
		if err := replay(rec, *eventsPath); err != nil {
			slog.Warn("event replay stopped", "err", err)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	rec.Flush(shutCtx)
	if err := rec.Close(); err != nil {
		slog.Warn("recorder close", "err", err)
	}
	slog.Info("goodbye")
}

// replayLine is one JSONL input record.
type replayLine struct {
	Type    string         `json:"eventType"`
	PageURL string         `json:"pageUrl"`
	UserID  string         `json:"userId"`
	Data    map[string]any `json:"data"`
}

// replay feeds a JSONL stream through the recorder's public surface.
// Malformed lines are skipped; the recorder itself never errors.
func replay(rec *recorder.Recorder, path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rl replayLine
		if err := json.Unmarshal(line, &rl); err != nil {
			slog.Debug("skipping malformed event line", "err", err)
			continue
		}
		switch rl.Type {
		case "identify":
			rec.Identify(rl.UserID)
		case "navigation":
			rec.TrackNavigation(rl.PageURL)
		case "page_hidden":
			rec.PageHidden()
		case "page_visible":
			rec.PageVisible()
		case "page_unload":
			rec.PageUnloading()
		default:
			rec.Track(rl.Type, rl.Data)
		}
	}
	return sc.Err()
}
