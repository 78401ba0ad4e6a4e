// ABOUTME: HTTP API handlers for the gateway
// ABOUTME: Serves the user profile as JSON for the client UI

package gateway

import (
	"encoding/json"
	"net/http"
)

type profileResponse struct {
	Content string `json:"content"`
}

// handleProfile returns the current profile file content. A missing or
// unconfigured profile reads as empty.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var content string
	if g.profile != nil {
		var err error
		content, err = g.profile.Content()
		if err != nil {
			g.logger.Error("failed to read profile", "error", err)
			http.Error(w, "failed to read profile", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(profileResponse{Content: content}); err != nil {
		g.logger.Error("failed to encode profile response", "error", err)
	}
}
