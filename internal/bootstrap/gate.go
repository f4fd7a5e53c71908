package bootstrap

import (
	"net/http"
	"sync/atomic"
)

// Gate holds back command intake until bootstrap has finished.
type Gate struct {
	open atomic.Bool
}

// Open lets requests through.
func (g *Gate) Open() {
	g.open.Store(true)
}

// IsOpen reports whether bootstrap has completed.
func (g *Gate) IsOpen() bool {
	return g.open.Load()
}

// Middleware answers 503 until the gate opens. Telegram redelivers updates
// rejected this way.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.open.Load() {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "bot is starting", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
