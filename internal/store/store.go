package store

import (
	"time"

	"github.com/xsukax/ephemchat/internal/models"
)

type Store interface {
	// Room operations
	CreateRoom(id, passwordHash string, createdAt time.Time) error
	GetRoom(id string) (*models.Room, error)
	DeleteRoom(id string) error
	ExpireRooms(cutoff time.Time) ([]string, error)

	// Participant operations
	EvictStale(roomID string, cutoff time.Time) ([]models.RemovedUser, error)
	CountParticipants(roomID string) (int, error)
	IsParticipant(roomID, userID string) (bool, error)
	UpsertParticipant(roomID, userID, encryptedName string, seen time.Time) error
	RemoveParticipant(roomID, userID string) error
	GetParticipants(roomID string) ([]models.Participant, error)
	UpdateParticipantName(roomID, userID, encryptedName string) error

	// Message operations
	SaveMessage(roomID, userID, encryptedContent, msgType string, at time.Time) (int64, error)
	EditMessage(messageID int64, userID, encryptedContent string) (int, error)
	DeleteMessage(messageID int64, userID string) (int, error)
	GetMessagesAfter(roomID string, afterID int64, limit int) ([]models.Message, error)
	GetMessagesByID(roomID string, ids []int64) ([]models.Message, error)
}
