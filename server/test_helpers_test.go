package server

import (
	"context"
	"testing"
	"time"

	"github.com/chazu/kurt/store"
	"github.com/chazu/kurt/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

func bg() context.Context {
	return context.Background()
}

// newTestEvalService creates an EvalService with its own session store.
// Sessions are destroyed when the test ends.
func newTestEvalService(t *testing.T, opts ...vm.Option) *EvalService {
	t.Helper()
	sessions := NewSessionStore(opts...)
	t.Cleanup(sessions.Close)
	return NewEvalService(sessions, nil, 2*time.Second, opts...)
}

// newCachedEvalService is like newTestEvalService but compiles through an
// in-memory store.
func newCachedEvalService(t *testing.T) (*EvalService, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	sessions := NewSessionStore()
	t.Cleanup(sessions.Close)
	return NewEvalService(sessions, st, 2*time.Second), st
}

func mustEval(t *testing.T, svc *EvalService, session, src string) *EvalResult {
	t.Helper()
	res, err := svc.Eval(bg(), session, src)
	if err != nil {
		t.Fatalf("Eval(%q) returned error: %v", src, err)
	}
	return res
}
