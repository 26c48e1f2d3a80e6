package server

import (
	"net/http"
	"strings"
)

// EngineHTTP defines the minimal surface the lifecycle server needs from the
// evaluation engine to serve HTTP requests.
type EngineHTTP interface {
	ServeEvaluate(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewEngineHandler wires the HTTP routing facade to the evaluation engine so
// the lifecycle server owns URL dispatch without embedding routing logic into
// the engine itself.
func NewEngineHandler(e EngineHTTP) http.Handler {
	if e == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch route(r.URL.Path) {
		case "evaluate":
			if r.Method != http.MethodPost {
				e.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			e.ServeEvaluate(w, r)
		case "healthz":
			e.ServeHealth(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func route(path string) string {
	switch strings.ToLower(strings.Trim(path, "/")) {
	case "evaluate":
		return "evaluate"
	case "health", "healthz":
		return "healthz"
	default:
		return ""
	}
}
