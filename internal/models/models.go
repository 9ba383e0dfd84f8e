package models

import "time"

// SystemUserID is the reserved author for synthesized join/leave/rename
// notices. Client-generated user ids are UUIDs and cannot collide with it.
const SystemUserID = "SYSTEM"

// Message kinds stored in the msg_type column.
const (
	TypeMessage = "message"
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeRename  = "rename"
)

// Room is a password-gated two-party chat session. The id doubles as the
// non-secret half of the sharing link; PasswordHash is a bcrypt hash of the
// client-side pre-hashed password and is never returned to clients.
type Room struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Participant is a user's live membership in a room. EncryptedName is an
// opaque ciphertext blob; the server never sees the display name.
type Participant struct {
	RoomID        string    `json:"-"`
	UserID        string    `json:"user_id"`
	EncryptedName string    `json:"encrypted_name"`
	LastSeen      time.Time `json:"-"`
}

// RemovedUser identifies a participant evicted for missing heartbeats,
// carrying the last ciphertext name seen so peers can render a departure.
type RemovedUser struct {
	UserID        string `json:"user_id"`
	EncryptedName string `json:"encrypted_name"`
}

// Message is one ledger row. Content is ciphertext for user messages and an
// opaque payload for system notices. Rows are never physically removed by
// edit or delete; Version increments on every accepted mutation so polling
// clients can reconcile already-rendered messages.
type Message struct {
	ID               int64  `json:"id"`
	RoomID           string `json:"-"`
	UserID           string `json:"user_id"`
	EncryptedContent string `json:"encrypted_content"`
	Timestamp        int64  `json:"timestamp"`
	Edited           bool   `json:"edited"`
	Deleted          bool   `json:"deleted"`
	Version          int    `json:"version"`
	Type             string `json:"msg_type"`
}
