// Configuration endpoints.

package api

import (
	"net/http"

	"github.com/seenimoa/filingwatch/internal/config"
)

// handleGetConfig returns the running configuration with credentials
// redacted.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: redacted(s.cfg)})
}

// handleGetSecrets reports which credentials are set and where they came
// from, never the values themselves.
func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: config.CheckSecrets(s.cfg)})
}

func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Database.DSN = config.RedactDSN(cfg.Database.DSN)
	if out.API.Token != "" {
		out.API.Token = "***"
	}
	return out
}
