package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/model"
)

type connectionLister interface {
	List(ctx context.Context) ([]model.Connection, error)
}

// PresenceHandler reports who is currently connected, derived from the
// connection registry. One user with several live connections appears once.
type PresenceHandler struct {
	registry connectionLister
	log      zerolog.Logger
}

type onlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	conns, err := h.registry.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("user_id", requester.UserID).Msg("failed to list connections")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	seen := make(map[string]bool, len(conns))
	online := make([]onlineUser, 0, len(conns))
	for _, conn := range conns {
		if seen[conn.UserID] {
			continue
		}
		seen[conn.UserID] = true
		online = append(online, onlineUser{UserID: conn.UserID, Username: conn.Username})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(online)
}
