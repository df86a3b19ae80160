package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShutdownHooksRunInPriorityOrder(t *testing.T) {
	s := NewShutdownHandler(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.RegisterNamedHook(IndexShutdownHook(func() error {
		mu.Lock()
		order = append(order, "index")
		mu.Unlock()
		return nil
	}))
	s.RegisterNamedHook(HTTPServerShutdownHook(record("http")))
	s.RegisterNamedHook(TracingShutdownHook(record("tracing")))

	s.Start()
	s.Shutdown()
	s.Wait()

	want := []string{"http", "tracing", "index"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestShutdownContinuesPastFailingHook(t *testing.T) {
	s := NewShutdownHandler(nil)

	ran := false
	s.RegisterHook("failing", 10, func(ctx context.Context) error {
		return errors.New("flush failed")
	})
	s.RegisterHook("after", 20, func(ctx context.Context) error {
		ran = true
		return nil
	})

	s.Start()
	s.Shutdown()
	s.Wait()

	if !ran {
		t.Error("hook after a failing hook did not run")
	}
}

func TestShutdownChSignalsBeforeHooksFinish(t *testing.T) {
	s := NewShutdownHandler(nil)

	release := make(chan struct{})
	s.RegisterHook("slow", 10, func(ctx context.Context) error {
		<-release
		return nil
	})

	s.Start()
	s.Shutdown()

	select {
	case <-s.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("ShutdownCh did not close when shutdown started")
	}

	select {
	case <-s.Done():
		t.Fatal("Done closed before hooks finished")
	default:
	}

	close(release)
	s.Wait()
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	s := NewShutdownHandler(nil)
	s.Shutdown()

	select {
	case <-s.Done():
		t.Fatal("Done closed without Start")
	case <-time.After(50 * time.Millisecond):
	}
}
