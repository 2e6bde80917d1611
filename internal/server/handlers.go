package server

import (
	"fmt"
	"net/http"

	"github.com/woozymasta/pingwatch/internal/vars"
)

// handleStatus answers liveness probes with the live notification counter.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondText(w, fmt.Sprintf("%s running | notified: %d", vars.Name, s.counter.Notified()))
}

// respondText writes a text/plain 200 response.
func respondText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, body)
}
