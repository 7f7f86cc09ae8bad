package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/avelkova/mira/internal/store"
)

// handleGuestClaim adopts a guest's buffered conversation into the
// authenticated user's account. The buffer read is consume-once, so of two
// concurrent claims exactly one migrates; a miss (expired or never
// buffered) migrates nothing and is not an error.
func (r *Router) handleGuestClaim(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		GuestID string `json:"guest_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.GuestID == "" {
		http.Error(w, `{"error": "guest_id is required"}`, http.StatusBadRequest)
		return
	}

	entry, err := r.guestBuf.Take(req.Context(), body.GuestID)
	if err != nil {
		r.logger.Printf("guest_claim: take buffer for guest %s: %v", body.GuestID, err)
		captureError(req, err, "guest_claim: buffer read failed")
		http.Error(w, `{"error": "claim failed"}`, http.StatusInternalServerError)
		return
	}
	if entry == nil || len(entry.Messages) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"migrated": false})
		return
	}

	messages := make([]store.Message, 0, len(entry.Messages))
	for _, m := range entry.Messages {
		messages = append(messages, store.Message{Role: m.Role, Content: m.Content})
	}

	conversationID, err := r.store.AdoptGuestMessages(req.Context(), authUser.ID, messages, entry.Summary)
	if err != nil {
		r.logger.Printf("guest_claim: adopt for user %s: %v", authUser.ID, err)
		captureError(req, err, "guest_claim: adoption failed")
		http.Error(w, `{"error": "claim failed"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("guest_claim: migrated %d messages from guest %s to user %s (conversation %s)",
		len(messages), body.GuestID, authUser.ID, conversationID)

	writeJSON(w, http.StatusOK, map[string]any{
		"migrated":        true,
		"conversation_id": conversationID,
		"message_count":   len(messages),
		"summary":         entry.Summary,
	})
}

// handleListMessages returns a conversation's messages in turn order.
// Only the owner may read it.
func (r *Router) handleListMessages(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	conversationID := req.PathValue("id")
	conv, err := r.store.GetConversation(req.Context(), conversationID)
	if err == store.ErrNotFound {
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Printf("conversations: get %s: %v", conversationID, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	// Not-found and forbidden are indistinguishable on purpose.
	if conv.OwnerKind != "user" || conv.OwnerID != authUser.ID {
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
		return
	}

	messages, err := r.store.ListMessages(req.Context(), conversationID)
	if err != nil {
		r.logger.Printf("conversations: list messages for %s: %v", conversationID, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}
