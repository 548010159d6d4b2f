package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alfredjeanlab/memlog/internal/config"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/store/memory"
)

// chanSubscriber hands out a prepared channel for one subject.
type chanSubscriber struct {
	subject  string
	ch       chan []byte
	canceled bool
}

func (s *chanSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	if topic != s.subject {
		return nil, nil, errors.New("unexpected subject " + topic)
	}
	return s.ch, func() { s.canceled = true }, nil
}

func (s *chanSubscriber) Close() error { return nil }

func TestFeedListener(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	lis := listener.New(st, nil, nil, logger)

	sub := &chanSubscriber{subject: "memlog.request.observed", ch: make(chan []byte, 2)}
	sub.ch <- []byte(`{"request_id":"req-1","group_id":"g1","body":{"message_id":"m1","sender":"u1"}}`)
	sub.ch <- []byte(`not json`)
	close(sub.ch)

	if err := feedListener(context.Background(), sub, sub.subject, lis, logger); err != nil {
		t.Fatalf("feedListener: %v", err)
	}
	if !sub.canceled {
		t.Error("subscription was not cancelled")
	}
	rec, err := st.GetByRequestID(context.Background(), "req-1")
	if err != nil || rec.MessageID != "m1" {
		t.Fatalf("record = %+v, err = %v", rec, err)
	}
}

func TestFeedListener_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lis := listener.New(memory.New(), nil, nil, logger)
	sub := &chanSubscriber{subject: "s", ch: make(chan []byte)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// The deadline surfaces as DeadlineExceeded, which is not a clean stop.
	if err := feedListener(ctx, sub, "s", lis, logger); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := feedListener(ctx, sub, "s", lis, logger); err != nil {
		t.Fatalf("cancelled feed err = %v, want nil", err)
	}
}

func TestOpenStore_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := openStore(context.Background(), &config.Config{Store: config.StoreMemory}, logger)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if _, err := openStore(context.Background(), &config.Config{Store: "redis"}, logger); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

func TestNewArchiver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()

	a, sched := newArchiver(context.Background(), &config.Config{}, st, nil, nil, logger)
	if a != nil || sched != nil {
		t.Fatal("no destinations should disable archiving")
	}

	cfg := &config.Config{ArchiveDir: t.TempDir()}
	a, sched = newArchiver(context.Background(), cfg, st, nil, nil, logger)
	if a == nil || sched != nil {
		t.Fatalf("interval 0: archiver=%v scheduler=%v", a, sched)
	}

	cfg.ArchiveInterval = time.Minute
	if _, sched = newArchiver(context.Background(), cfg, st, nil, nil, logger); sched == nil {
		t.Fatal("expected a scheduler when the interval is set")
	}
}
