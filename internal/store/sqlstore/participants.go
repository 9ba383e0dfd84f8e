package sqlstore

import (
	"time"

	"github.com/xsukax/ephemchat/internal/models"
)

// EvictStale removes every participant whose last_seen predates cutoff and
// returns who was removed, with their last known encrypted name, so callers
// can synthesize departure notices.
func (s *SQLStore) EvictStale(roomID string, cutoff time.Time) ([]models.RemovedUser, error) {
	query := s.rebind("SELECT user_id, encrypted_name FROM participants WHERE room_id = ? AND last_seen < ?")
	rows, err := s.db.Query(query, roomID, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []models.RemovedUser
	for rows.Next() {
		var r models.RemovedUser
		if err := rows.Scan(&r.UserID, &r.EncryptedName); err != nil {
			return nil, err
		}
		removed = append(removed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query = s.rebind("DELETE FROM participants WHERE room_id = ? AND last_seen < ?")
	if _, err := s.db.Exec(query, roomID, cutoff.Unix()); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *SQLStore) CountParticipants(roomID string) (int, error) {
	var count int
	query := s.rebind("SELECT COUNT(*) FROM participants WHERE room_id = ?")
	err := s.db.QueryRow(query, roomID).Scan(&count)
	return count, err
}

func (s *SQLStore) IsParticipant(roomID, userID string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM participants WHERE room_id = ? AND user_id = ?)")
	err := s.db.QueryRow(query, roomID, userID).Scan(&exists)
	return exists, err
}

// UpsertParticipant inserts or refreshes a membership row. Join and heartbeat
// share this one primitive: both set the encrypted name and bump last_seen.
func (s *SQLStore) UpsertParticipant(roomID, userID, encryptedName string, seen time.Time) error {
	query := s.rebind(`
		INSERT INTO participants (room_id, user_id, encrypted_name, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			encrypted_name = excluded.encrypted_name,
			last_seen = excluded.last_seen
	`)
	_, err := s.db.Exec(query, roomID, userID, encryptedName, seen.Unix())
	return err
}

func (s *SQLStore) RemoveParticipant(roomID, userID string) error {
	query := s.rebind("DELETE FROM participants WHERE room_id = ? AND user_id = ?")
	_, err := s.db.Exec(query, roomID, userID)
	return err
}

func (s *SQLStore) GetParticipants(roomID string) ([]models.Participant, error) {
	query := s.rebind("SELECT room_id, user_id, encrypted_name, last_seen FROM participants WHERE room_id = ?")
	rows, err := s.db.Query(query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var lastSeen int64
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.EncryptedName, &lastSeen); err != nil {
			return nil, err
		}
		p.LastSeen = time.Unix(lastSeen, 0)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *SQLStore) UpdateParticipantName(roomID, userID, encryptedName string) error {
	query := s.rebind("UPDATE participants SET encrypted_name = ? WHERE room_id = ? AND user_id = ?")
	_, err := s.db.Exec(query, encryptedName, roomID, userID)
	return err
}
