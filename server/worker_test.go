package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWorkerDo(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	v, err := w.Do(bg(), func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if v.(int) != 42 {
		t.Errorf("Do = %v, want 42", v)
	}

	want := errors.New("boom")
	if _, err := w.Do(bg(), func() (any, error) { return nil, want }); !errors.Is(err, want) {
		t.Errorf("Do error = %v, want %v", err, want)
	}
}

func TestWorkerSerializes(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	counter := 0 // only touched on the worker goroutine
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Do(bg(), func() (any, error) {
				counter++
				return nil, nil
			})
		}()
	}
	wg.Wait()

	v, _ := w.Do(bg(), func() (any, error) { return counter, nil })
	if v.(int) != 50 {
		t.Errorf("counter = %v, want 50", v)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	_, err := w.Do(bg(), func() (any, error) { panic("kaboom") })
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Do error = %v, want recovered panic", err)
	}

	// The worker keeps serving after a panic.
	v, err := w.Do(bg(), func() (any, error) { return "ok", nil })
	if err != nil || v.(string) != "ok" {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker()
	w.Stop()
	w.Stop() // idempotent

	if _, err := w.Do(bg(), func() (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop = %v, want ErrWorkerStopped", err)
	}
}

func TestWorkerContextWhileQueued(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go w.Do(bg(), func() (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	// Fill the queue so the next request cannot be enqueued.
	for i := 0; i < cap(w.requests); i++ {
		go w.Do(bg(), func() (any, error) { return nil, nil })
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Do(ctx, func() (any, error) { return nil, nil })
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do = %v, want deadline exceeded", err)
	}
}
