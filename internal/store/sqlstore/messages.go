package sqlstore

import (
	"strings"
	"time"

	"github.com/xsukax/ephemchat/internal/models"
)

func (s *SQLStore) SaveMessage(roomID, userID, encryptedContent, msgType string, at time.Time) (int64, error) {
	var id int64
	query := s.rebind("INSERT INTO messages (room_id, user_id, encrypted_content, timestamp, msg_type) VALUES (?, ?, ?, ?, ?) RETURNING id")
	err := s.db.QueryRow(query, roomID, userID, encryptedContent, at.Unix(), msgType).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EditMessage replaces the ciphertext of the caller's own message and bumps
// its version in one statement, so racing mutations cannot lose an update.
// Returns sql.ErrNoRows when the message doesn't exist or isn't theirs.
func (s *SQLStore) EditMessage(messageID int64, userID, encryptedContent string) (int, error) {
	var version int
	query := s.rebind("UPDATE messages SET encrypted_content = ?, edited = 1, version = version + 1 WHERE id = ? AND user_id = ? RETURNING version")
	err := s.db.QueryRow(query, encryptedContent, messageID, userID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// DeleteMessage tombstones the row: deleted flips on and version bumps, but
// the row and its ciphertext stay so version comparisons keep working for
// clients that rendered it before the delete.
func (s *SQLStore) DeleteMessage(messageID int64, userID string) (int, error) {
	var version int
	query := s.rebind("UPDATE messages SET deleted = 1, version = version + 1 WHERE id = ? AND user_id = ? RETURNING version")
	err := s.db.QueryRow(query, messageID, userID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLStore) GetMessagesAfter(roomID string, afterID int64, limit int) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, room_id, user_id, encrypted_content, timestamp, edited, deleted, version, msg_type
		FROM messages
		WHERE room_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, roomID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesByID fetches the nominated rows regardless of deleted state.
// The caller filters by version; the store just returns current rows.
func (s *SQLStore) GetMessagesByID(roomID string, ids []int64) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat(", ?", len(ids))[2:]
	query := s.rebind(`
		SELECT id, room_id, user_id, encrypted_content, timestamp, edited, deleted, version, msg_type
		FROM messages
		WHERE room_id = ? AND id IN (` + placeholders + `)`)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, roomID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMessages(rows rowScanner) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var edited, deleted int
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.EncryptedContent, &m.Timestamp, &edited, &deleted, &m.Version, &m.Type); err != nil {
			return nil, err
		}
		m.Edited = edited != 0
		m.Deleted = deleted != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
