// internal/messaging/routes.go

package messaging

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers all messaging routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware func(http.Handler) http.Handler) {
	// WebSocket endpoint - requires authentication
	router.Handle("/ws", authMiddleware(http.HandlerFunc(handler.HandleWebSocket))).Methods("GET")

	api := router.PathPrefix("/api/v1/chat").Subrouter()
	api.Use(instrument)
	api.Use(authMiddleware)

	// Conversation endpoints
	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations/direct", handler.CreateDirectConversation).Methods("POST")
	api.HandleFunc("/conversations/group", handler.CreateGroupConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}", handler.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}", handler.RenameConversation).Methods("PATCH")
	api.HandleFunc("/conversations/{id}/participants", handler.GetParticipants).Methods("GET")
	api.HandleFunc("/conversations/{id}/leave", handler.LeaveConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/mute", handler.ToggleMute).Methods("POST")
	api.HandleFunc("/conversations/{id}/read", handler.MarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id}/avatar", handler.UploadAvatar).Methods("POST")
	api.HandleFunc("/conversations/{id}/pinned", handler.GetPinnedMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", handler.GetMessages).Methods("GET")

	// Message endpoints
	api.HandleFunc("/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id}", handler.EditMessage).Methods("PATCH")
	api.HandleFunc("/messages/{id}", handler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/reactions", handler.ToggleReaction).Methods("POST")
	api.HandleFunc("/messages/{id}/pin", handler.TogglePin).Methods("POST")
	api.HandleFunc("/messages/{id}/forward", handler.ForwardMessage).Methods("POST")

	api.HandleFunc("/search", handler.SearchMessages).Methods("GET")
}

// instrument records request latency by route template
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
