package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/baas-gateway/internal/apierror"
)

// Deadline returns middleware that applies a global request deadline to
// the whole chain. If the deadline fires before the handler completes, a
// 504 is returned. Pass 0 to disable.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &deadlineWriter{ResponseWriter: w}

			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				// Only write the 504 if the handler has not started a
				// response of its own.
				if tw.tryClaimWrite() {
					apierror.WriteJSON(w, r, http.StatusGatewayTimeout, apierror.DeadlineExceeded, "global request deadline exceeded")
				}
				// Wait for the handler goroutine to avoid leaks.
				<-done
			}
		})
	}
}

// deadlineWriter arbitrates the response between the handler goroutine
// and the timeout path. Whoever claims first owns it: the 504 is never
// sent after an upstream response has started streaming, and a handler
// that keeps writing after the deadline fired is silently dropped, as
// http.TimeoutHandler does.
type deadlineWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	claimed  bool
	timedOut bool
}

// tryClaimWrite claims the response for the timeout path.
func (dw *deadlineWriter) tryClaimWrite() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.claimed {
		return false
	}
	dw.claimed = true
	dw.timedOut = true
	return true
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	if dw.timedOut {
		dw.mu.Unlock()
		return
	}
	dw.claimed = true
	dw.mu.Unlock()
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	if dw.timedOut {
		dw.mu.Unlock()
		return 0, http.ErrHandlerTimeout
	}
	dw.claimed = true
	dw.mu.Unlock()
	return dw.ResponseWriter.Write(b)
}
