package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"agora/server/internal/backplane"
	"agora/server/internal/hub"
)

func TestRunMetricsLogsWhenActive(t *testing.T) {
	bp := backplane.NewMemory()
	h := hub.New(bp, nil)
	s := h.Join(context.Background(), "general", "alice")
	defer h.Leave(s)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, h, nil, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	output := buf.String()
	if !strings.Contains(output, "[metrics]") {
		t.Errorf("expected metrics log output, got: %q", output)
	}
	if !strings.Contains(output, "clients=1") {
		t.Errorf("expected clients=1 in output, got: %q", output)
	}
}

func TestRunMetricsSilentWhenEmpty(t *testing.T) {
	bp := backplane.NewMemory()
	h := hub.New(bp, nil)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, h, nil, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(buf.String(), "[metrics]") {
		t.Errorf("expected no output for empty hub, got: %q", buf.String())
	}
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	bp := backplane.NewMemory()
	h := hub.New(bp, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, h, nil, 50*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMetrics did not exit after cancel")
	}
}
