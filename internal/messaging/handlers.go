// internal/messaging/handlers.go

package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

type Handler struct {
	service Service
	hub     *Hub
	logger  zerolog.Logger

	// users already upserted by this process
	known sync.Map
}

func NewHandler(service Service, hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// currentUser returns the caller's id, registering the user on first sight.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	if _, seen := h.known.Load(id.UserID); !seen {
		user := &UserInfo{ID: id.UserID, Username: id.Username}
		if id.Email != "" {
			email := id.Email
			user.Email = &email
		}
		if err := h.service.RegisterUser(r.Context(), user); err != nil {
			h.writeError(w, err)
			return "", false
		}
		h.known.Store(id.UserID, true)
	}
	return id.UserID, true
}

// writeError maps service errors to status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotParticipant):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrUserNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrMessageDeleted):
		utils.ErrorResponse(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error().Err(err).Msg("request failed")
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v and validates it. An empty body is
// accepted for requests whose fields all come from the path.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
			return false
		}
	}
	if err := utils.ValidateStruct(v); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// HandleWebSocket upgrades the connection and attaches it to the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := ServeWS(h.hub, h.service, userID, w, r); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
	}
}

// Conversations

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversations, err := h.service.GetUserConversations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if conversations == nil {
		conversations = []*Conversation{}
	}
	utils.SuccessResponse(w, conversations, http.StatusOK)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversation, err := h.service.GetConversation(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation, http.StatusOK)
}

func (h *Handler) CreateDirectConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req CreateDirectRequest
	if !h.decode(w, r, &req) {
		return
	}
	conversation, err := h.service.CreateDirectConversation(r.Context(), userID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

func (h *Handler) CreateGroupConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	conversation, err := h.service.CreateGroupConversation(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req RenameConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	conversation, err := h.service.RenameConversation(r.Context(), userID, mux.Vars(r)["id"], req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation, http.StatusOK)
}

func (h *Handler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := h.service.LeaveConversation(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	utils.MessageResponse(w, "left conversation", http.StatusOK)
}

func (h *Handler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	muted, err := h.service.ToggleMute(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, map[string]bool{"is_muted": muted}, http.StatusOK)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkRead(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	utils.MessageResponse(w, "marked as read", http.StatusOK)
}

func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversation, err := h.service.GetConversation(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation.Participants, http.StatusOK)
}

func (h *Handler) GetPinnedMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	messages, err := h.service.GetPinnedMessages(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, nonNil(messages), http.StatusOK)
}

// UploadAvatar stores the multipart "avatar" file as the conversation avatar
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+1<<20)
	file, header, err := r.FormFile("avatar")
	if err != nil {
		utils.ErrorResponse(w, "avatar file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		sniff := make([]byte, 512)
		n, _ := file.Read(sniff)
		contentType = http.DetectContentType(sniff[:n])
		file.Seek(0, 0)
	}

	url, err := h.service.SetConversationAvatar(r.Context(), userID, mux.Vars(r)["id"], file, header.Filename, contentType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, map[string]string{"avatar_url": url}, http.StatusOK)
}

// Messages

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.service.GetConversationMessages(r.Context(), mux.Vars(r)["id"], userID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, nonNil(messages), http.StatusOK)
}

// SendMessage sends a message (REST fallback)
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	message, err := h.service.SendMessage(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusCreated)
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	req := EditMessageRequest{MessageID: mux.Vars(r)["id"]}
	if !h.decode(w, r, &req) {
		return
	}
	req.MessageID = mux.Vars(r)["id"]

	message, err := h.service.EditMessage(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusOK)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	message, err := h.service.DeleteMessage(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusOK)
}

func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	req := ReactionRequest{MessageID: mux.Vars(r)["id"]}
	if !h.decode(w, r, &req) {
		return
	}
	req.MessageID = mux.Vars(r)["id"]

	message, err := h.service.ToggleReaction(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusOK)
}

func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	message, err := h.service.TogglePin(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusOK)
}

func (h *Handler) ForwardMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	req := ForwardRequest{MessageID: mux.Vars(r)["id"]}
	if !h.decode(w, r, &req) {
		return
	}
	req.MessageID = mux.Vars(r)["id"]

	message, err := h.service.ForwardMessage(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusCreated)
}

func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	results, err := h.service.SearchMessages(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, results, http.StatusOK)
}

func nonNil(messages []*Message) []*Message {
	if messages == nil {
		return []*Message{}
	}
	return messages
}
