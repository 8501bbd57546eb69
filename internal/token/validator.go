package token

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of a validation. Permissions are informational:
// elevation is all-or-nothing, the stored list is not enforced against
// the requested path or method.
type Result struct {
	Valid       bool
	TokenID     string
	Permissions []string
}

const touchTimeout = 5 * time.Second

// Validator checks API tokens against the store. Every call is a fresh
// lookup — results are never cached across requests, because a token can
// be revoked at any moment and staleness here would be a security bug.
type Validator struct {
	store  Store
	logger *slog.Logger

	// wg tracks in-flight last-used writes so Close can drain them.
	wg sync.WaitGroup
}

// NewValidator creates a Validator over the given store.
func NewValidator(store Store, logger *slog.Logger) *Validator {
	return &Validator{store: store, logger: logger}
}

// Validate checks whether value identifies a usable token. A missing row,
// a non-active status, and a past expiry all produce the same invalid
// result. On success the row's last_used_at is updated asynchronously;
// a failed update is logged and never affects the returned result.
func (v *Validator) Validate(ctx context.Context, value string) (Result, error) {
	tok, err := v.store.LookupActive(ctx, value)
	if errors.Is(err, ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if !tok.Usable(time.Now()) {
		v.logger.Info("rejected expired token", "token_id", tok.ID, "token_prefix", tok.Prefix())
		return Result{}, nil
	}

	// Usage tracking is advisory, not load-bearing: fire and forget,
	// detached from the request context so client disconnects don't
	// cancel the write.
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		tctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := v.store.TouchLastUsed(tctx, tok.ID); err != nil {
			v.logger.Warn("last-used update failed", "token_id", tok.ID, "error", err)
		}
	}()

	return Result{Valid: true, TokenID: tok.ID, Permissions: tok.Permissions}, nil
}

// Close waits for outstanding last-used writes to finish. Called during
// graceful shutdown.
func (v *Validator) Close() {
	v.wg.Wait()
}
