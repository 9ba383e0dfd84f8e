package sqlstore

import (
	"time"

	"github.com/xsukax/ephemchat/internal/models"
)

func (s *SQLStore) CreateRoom(id, passwordHash string, createdAt time.Time) error {
	query := s.rebind("INSERT INTO rooms (id, password_hash, created_at) VALUES (?, ?, ?)")
	_, err := s.db.Exec(query, id, passwordHash, createdAt.Unix())
	return err
}

func (s *SQLStore) GetRoom(id string) (*models.Room, error) {
	var room models.Room
	var createdAt int64
	query := s.rebind("SELECT id, password_hash, created_at FROM rooms WHERE id = ?")
	err := s.db.QueryRow(query, id).Scan(&room.ID, &room.PasswordHash, &createdAt)
	if err != nil {
		return nil, err
	}
	room.CreatedAt = time.Unix(createdAt, 0)
	return &room, nil
}

// DeleteRoom cascade-deletes the room with its messages and participants in
// one transaction so a room never survives partially torn down.
func (s *SQLStore) DeleteRoom(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.rebind("DELETE FROM messages WHERE room_id = ?"), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM participants WHERE room_id = ?"), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM rooms WHERE id = ?"), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ExpireRooms cascade-deletes every room created before cutoff and returns
// the ids it removed.
func (s *SQLStore) ExpireRooms(cutoff time.Time) ([]string, error) {
	query := s.rebind("SELECT id FROM rooms WHERE created_at < ?")
	rows, err := s.db.Query(query, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.DeleteRoom(id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
