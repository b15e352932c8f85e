package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenPersisterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.json")
	t.Setenv("STORAGE_BACKEND", "FILE")
	t.Setenv("SCHEDULE_DATA_FILE", path)

	p, checks, closeFn, err := openPersister(context.Background(), testLogger())
	if err != nil {
		t.Fatalf("openPersister: %v", err)
	}
	defer closeFn()

	files, ok := p.(*storage.FileSnapshots)
	if !ok || files.Path() != path {
		t.Fatalf("expected file snapshots at %s, got %#v", path, p)
	}
	if len(checks) != 1 || checks[0].Name != "storage" {
		t.Fatalf("unexpected checks %+v", checks)
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Fatalf("storage check failed: %v", err)
	}
}

func TestOpenPersisterErrors(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	if _, _, _, err := openPersister(context.Background(), testLogger()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, _, _, err := openPersister(context.Background(), testLogger()); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestRateLimiterSelection(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	mw, check, closeFn := rateLimiter(testLogger())
	closeFn()
	if mw != nil || check != nil {
		t.Fatalf("expected rate limiting to be off")
	}

	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	mw, check, closeFn = rateLimiter(testLogger())
	closeFn()
	if mw == nil || check != nil {
		t.Fatalf("expected in-memory limiter without readiness check")
	}

	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	mw, check, closeFn = rateLimiter(testLogger())
	defer closeFn()
	if mw == nil || check == nil || check.Name != "redis" {
		t.Fatalf("expected redis limiter with readiness check")
	}
}

func TestShutdownStopsEventsAfterRequestsDrain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	var finished atomic.Bool
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		w.WriteHeader(http.StatusOK)
	})}
	go func() { _ = srv.Serve(ln) }()

	reqDone := make(chan struct{})
	go func() {
		defer close(reqDone)
		resp, err := http.Post("http://"+ln.Addr().String()+"/busy", "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	var drainedBeforeStop bool
	eventsDone := make(chan struct{})
	stopEvents := func() {
		drainedBeforeStop = finished.Load()
		close(eventsDone)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown(ctx, srv, stopEvents, eventsDone, testLogger())
	<-reqDone

	if !drainedBeforeStop {
		t.Fatalf("event publisher was stopped before the in-flight request finished")
	}
}

func TestShutdownWithoutEvents(t *testing.T) {
	stopped := false
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	shutdown(ctx, &http.Server{}, func() { stopped = true }, nil, testLogger())
	if !stopped {
		t.Fatalf("expected stop func to be called")
	}
}
