package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xsukax/ephemchat/internal/chat"
)

// ChatHandler multiplexes every room action over one endpoint, discriminated
// by the form-encoded "action" field, and answers with the protocol's
// {"success": ...} JSON envelope. Failures always come back HTTP 200 with
// success=false; clients key off the error string, not the status code.
type ChatHandler struct {
	Chat *chat.Service
	Log  *slog.Logger
}

type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, payload envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(payload)
}

func ok(w http.ResponseWriter, payload envelope) {
	if payload == nil {
		payload = envelope{}
	}
	payload["success"] = true
	writeJSON(w, payload)
}

func fail(w http.ResponseWriter, msg string) {
	writeJSON(w, envelope{"success": false, "error": msg})
}

// failErr translates engine errors into the client-facing strings the UI
// routes on. Anything unrecognized is a storage-level failure and degrades
// to a generic message.
func (h *ChatHandler) failErr(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		fail(w, "Chat not found")
	case errors.Is(err, chat.ErrInvalidCredential):
		fail(w, "Invalid password")
	case errors.Is(err, chat.ErrRoomFull):
		if action == "verify_chat" {
			fail(w, "Room is full (max 2 users)")
		} else {
			fail(w, "Room is full")
		}
	case errors.Is(err, chat.ErrMessageNotFound):
		fail(w, "Message not found")
	default:
		h.Log.Error("action failed", "action", action, "error", err)
		fail(w, "Internal server error")
	}
}

// Actions is the single synchronous entry point for the whole protocol.
// Every request runs the room-expiry sweep before its action executes.
func (h *ChatHandler) Actions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	action := r.FormValue("action")

	h.Chat.ExpireRooms(now)

	switch action {
	case "create_chat":
		secret := r.FormValue("password_hash")
		if secret == "" {
			fail(w, "Password required")
			return
		}
		chatID, err := h.Chat.CreateRoom(secret, now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"chat_id": chatID})

	case "verify_chat":
		res, err := h.Chat.VerifyRoom(r.FormValue("chat_id"), r.FormValue("user_id"), r.FormValue("password_hash"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{
			"remaining_time":    res.RemainingTime,
			"participant_count": res.ParticipantCount,
			"is_already_in":     res.AlreadyIn,
		})

	case "join_room":
		chatID, userID := r.FormValue("chat_id"), r.FormValue("user_id")
		if chatID == "" || userID == "" {
			fail(w, "Missing parameters")
			return
		}
		res, err := h.Chat.Join(chatID, userID, r.FormValue("encrypted_name"), r.FormValue("encrypted_join_msg"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"participants": res.Participants, "removed_users": res.Removed})

	case "leave_room":
		err := h.Chat.Leave(r.FormValue("chat_id"), r.FormValue("user_id"), r.FormValue("encrypted_leave_msg"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, nil)

	case "heartbeat":
		res, err := h.Chat.Heartbeat(r.FormValue("chat_id"), r.FormValue("user_id"), r.FormValue("encrypted_name"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"participants": res.Participants, "removed": res.Removed})

	case "update_nickname":
		err := h.Chat.Rename(r.FormValue("chat_id"), r.FormValue("user_id"), r.FormValue("encrypted_name"), r.FormValue("encrypted_rename_msg"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, nil)

	case "send_message":
		id, err := h.Chat.Send(r.FormValue("chat_id"), r.FormValue("user_id"), r.FormValue("encrypted_content"), now)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"message_id": id})

	case "edit_message":
		msgID, _ := strconv.ParseInt(r.FormValue("message_id"), 10, 64)
		version, err := h.Chat.Edit(msgID, r.FormValue("user_id"), r.FormValue("encrypted_content"))
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"version": version})

	case "delete_message":
		msgID, _ := strconv.ParseInt(r.FormValue("message_id"), 10, 64)
		version, err := h.Chat.Delete(msgID, r.FormValue("user_id"))
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"version": version})

	case "get_messages":
		lastID, _ := strconv.ParseInt(r.FormValue("last_id"), 10, 64)
		known := parseKnownVersions(r.FormValue("known_versions"))
		res, err := h.Chat.GetMessages(r.FormValue("chat_id"), lastID, known)
		if err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, envelope{"messages": res.Messages, "updates": res.Updates})

	case "destroy_chat":
		chatID := r.FormValue("chat_id")
		if chatID == "" {
			fail(w, "Chat ID required")
			return
		}
		if err := h.Chat.Destroy(chatID); err != nil {
			h.failErr(w, action, err)
			return
		}
		ok(w, nil)

	default:
		fail(w, "Invalid action")
	}
}

// parseKnownVersions decodes the client's {"<id>": version} JSON object.
// Malformed input degrades to an empty map, never an error; the client just
// gets no updates this cycle.
func parseKnownVersions(raw string) map[int64]int {
	known := make(map[int64]int)
	if raw == "" {
		return known
	}
	var byString map[string]int
	if err := json.Unmarshal([]byte(raw), &byString); err != nil {
		return known
	}
	for k, v := range byString {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		known[id] = v
	}
	return known
}
