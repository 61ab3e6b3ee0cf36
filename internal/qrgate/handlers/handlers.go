// Package handlers holds the action handlers run after a scan is accepted.
// Handlers are side effects only; their failures never change a verdict.
package handlers

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

type Handler interface {
	Handle(ctx context.Context, ev types.ActionEvent) error
}

type HandlerFunc func(ctx context.Context, ev types.ActionEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev types.ActionEvent) error { return f(ctx, ev) }

// Registry maps action types to handlers. An action type with no handler is
// rejected at scan time.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Handler)}
}

// Register installs h for actionType, replacing any previous handler.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[actionType] = h
}

func (r *Registry) Lookup(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[actionType]
	return h, ok
}

func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Log records accepted actions in the service log. It is the handler used
// when no event broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (h *Log) Handle(_ context.Context, ev types.ActionEvent) error {
	h.logger.Info("action accepted",
		zap.String("scan_log_id", ev.ScanLogID),
		zap.String("action_type", ev.ActionType),
		zap.String("action_point_id", ev.ActionPointID),
		zap.String("person_id", ev.PersonID),
		zap.Time("scanned_at", ev.ScannedAt),
	)
	return nil
}

// Chain runs every handler in order and returns the first error after all
// have run.
func Chain(hs ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, ev types.ActionEvent) error {
		var first error
		for _, h := range hs {
			if err := h.Handle(ctx, ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
