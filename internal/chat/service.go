// Package chat implements the room engine: password-gated room lifecycle,
// heartbeat-driven presence, the versioned message ledger, and the polling
// synchronization contract. The server never inspects message bodies or
// display names; everything it stores for a room besides timestamps and ids
// is ciphertext produced by the clients.
package chat

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/xsukax/ephemchat/internal/auth"
	"github.com/xsukax/ephemchat/internal/models"
	"github.com/xsukax/ephemchat/internal/store"
)

const (
	DefaultLifetime         = 24 * time.Hour
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultMaxParticipants  = 2
	DefaultFetchLimit       = 100
)

// Options tunes the engine; zero values fall back to the defaults above.
type Options struct {
	Lifetime         time.Duration
	HeartbeatTimeout time.Duration
	MaxParticipants  int
	FetchLimit       int
}

type Service struct {
	store store.Store
	log   *slog.Logger
	locks *roomLocks

	lifetime         time.Duration
	heartbeatTimeout time.Duration
	maxParticipants  int
	fetchLimit       int
}

func NewService(st store.Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = DefaultMaxParticipants
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = DefaultFetchLimit
	}
	return &Service{
		store:            st,
		log:              logger,
		locks:            newRoomLocks(),
		lifetime:         opts.Lifetime,
		heartbeatTimeout: opts.HeartbeatTimeout,
		maxParticipants:  opts.MaxParticipants,
		fetchLimit:       opts.FetchLimit,
	}
}

// VerifyResult answers verify_chat: how long the room has left, how many
// live participants it holds, and whether the asking user already has a seat.
type VerifyResult struct {
	RemainingTime    int64 `json:"remaining_time"`
	ParticipantCount int   `json:"participant_count"`
	AlreadyIn        bool  `json:"is_already_in"`
}

// Presence is the shared response shape of join_room and heartbeat.
type Presence struct {
	Participants []models.Participant `json:"participants"`
	Removed      []models.RemovedUser `json:"removed"`
}

// SyncResult carries one poll cycle's worth of ledger state: rows the client
// has never seen, and newer versions of rows it nominated in knownVersions.
type SyncResult struct {
	Messages []models.Message `json:"messages"`
	Updates  []models.Message `json:"updates"`
}

// ExpireRooms removes every room past its lifetime. It runs at the start of
// each request as advisory cleanup; failures are logged and swallowed so
// they never abort the action the request came to perform.
func (s *Service) ExpireRooms(now time.Time) {
	ids, err := s.store.ExpireRooms(now.Add(-s.lifetime))
	if err != nil {
		s.log.Warn("room expiry sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		s.locks.drop(id)
		s.log.Info("room expired", "room", id)
	}
}

// CreateRoom mints a fresh room keyed by a random 128-bit id and stores the
// bcrypt hash of the supplied secret.
func (s *Service) CreateRoom(secret string, now time.Time) (string, error) {
	id, err := auth.NewRoomID()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", err
	}
	if err := s.store.CreateRoom(id, hash, now); err != nil {
		return "", err
	}
	s.log.Info("room created", "room", id)
	return id, nil
}

func (s *Service) getRoom(roomID string) (*models.Room, error) {
	room, err := s.store.GetRoom(roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// VerifyRoom checks the room's password and, for users without a seat,
// whether one is free. Remaining lifetime may come back negative if the
// expiry sweep hasn't caught the room yet; clients treat that as expired.
func (s *Service) VerifyRoom(roomID, userID, secret string, now time.Time) (*VerifyResult, error) {
	room, err := s.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	if !auth.VerifySecret(secret, room.PasswordHash) {
		return nil, ErrInvalidCredential
	}

	lock := s.locks.get(roomID)
	lock.Lock()
	defer lock.Unlock()

	count, alreadyIn, err := s.activeCount(roomID, userID, now)
	if err != nil {
		return nil, err
	}
	if !alreadyIn && count >= s.maxParticipants {
		return nil, ErrRoomFull
	}

	remaining := s.lifetime - now.Sub(room.CreatedAt)
	return &VerifyResult{
		RemainingTime:    int64(remaining / time.Second),
		ParticipantCount: count,
		AlreadyIn:        alreadyIn,
	}, nil
}

// activeCount evicts stale participants before counting, so the count only
// ever reflects live members. Must be called with the room lock held when
// the result feeds an admission decision.
func (s *Service) activeCount(roomID, userID string, now time.Time) (count int, alreadyIn bool, err error) {
	if _, err = s.store.EvictStale(roomID, now.Add(-s.heartbeatTimeout)); err != nil {
		return 0, false, err
	}
	count, err = s.store.CountParticipants(roomID)
	if err != nil {
		return 0, false, err
	}
	alreadyIn, err = s.store.IsParticipant(roomID, userID)
	if err != nil {
		return 0, false, err
	}
	return count, alreadyIn, nil
}

// Join admits the user if they already hold a seat (re-entry is always
// allowed, e.g. a page reload) or if the room has a free one. The evict →
// count → insert sequence runs under the room's admission lock; without it,
// two first-time joiners could both pass the capacity check. A first join
// with a client-supplied ciphertext notice appends one join system message;
// re-entry appends nothing.
func (s *Service) Join(roomID, userID, encryptedName, encryptedJoinMsg string, now time.Time) (*Presence, error) {
	if _, err := s.getRoom(roomID); err != nil {
		return nil, err
	}

	lock := s.locks.get(roomID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := s.store.EvictStale(roomID, now.Add(-s.heartbeatTimeout))
	if err != nil {
		return nil, err
	}
	alreadyIn, err := s.store.IsParticipant(roomID, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountParticipants(roomID)
	if err != nil {
		return nil, err
	}
	if !alreadyIn && count >= s.maxParticipants {
		return nil, ErrRoomFull
	}

	if err := s.store.UpsertParticipant(roomID, userID, encryptedName, now); err != nil {
		return nil, err
	}
	if !alreadyIn && encryptedJoinMsg != "" {
		if _, err := s.store.SaveMessage(roomID, models.SystemUserID, encryptedJoinMsg, models.TypeJoin, now); err != nil {
			return nil, err
		}
	}

	participants, err := s.store.GetParticipants(roomID)
	if err != nil {
		return nil, err
	}
	s.log.Info("participant joined", "room", roomID, "returning", alreadyIn)
	return &Presence{Participants: participants, Removed: removed}, nil
}

// Leave drops the membership row and appends the caller's leave notice if
// one was supplied. Leaving is idempotent: an absent row, or even an absent
// room, is not an error.
func (s *Service) Leave(roomID, userID, encryptedLeaveMsg string, now time.Time) error {
	if _, err := s.getRoom(roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.RemoveParticipant(roomID, userID); err != nil {
		return err
	}
	if encryptedLeaveMsg != "" {
		if _, err := s.store.SaveMessage(roomID, models.SystemUserID, encryptedLeaveMsg, models.TypeLeave, now); err != nil {
			return err
		}
	}
	return nil
}

type timeoutLeave struct {
	Type          string `json:"type"`
	EncryptedName string `json:"encrypted_name"`
}

// Heartbeat refreshes the caller's seat and runs eviction. Silence past the
// heartbeat timeout is the only disconnection signal in the system, so this
// is where vanished peers are detected: each evicted participant other than
// the caller gets one leave notice carrying their last known encrypted name.
func (s *Service) Heartbeat(roomID, userID, encryptedName string, now time.Time) (*Presence, error) {
	if _, err := s.getRoom(roomID); err != nil {
		return nil, err
	}

	lock := s.locks.get(roomID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := s.store.EvictStale(roomID, now.Add(-s.heartbeatTimeout))
	if err != nil {
		return nil, err
	}
	for _, r := range removed {
		if r.UserID == userID || r.EncryptedName == "" {
			continue
		}
		payload, err := json.Marshal(timeoutLeave{Type: "timeout_leave", EncryptedName: r.EncryptedName})
		if err != nil {
			return nil, err
		}
		if _, err := s.store.SaveMessage(roomID, models.SystemUserID, string(payload), models.TypeLeave, now); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpsertParticipant(roomID, userID, encryptedName, now); err != nil {
		return nil, err
	}

	participants, err := s.store.GetParticipants(roomID)
	if err != nil {
		return nil, err
	}
	return &Presence{Participants: participants, Removed: removed}, nil
}

// Rename updates the stored encrypted name unconditionally (ownership of the
// user id is the only authentication) and appends the client-built rename
// notice if one was supplied.
func (s *Service) Rename(roomID, userID, encryptedName, encryptedRenameMsg string, now time.Time) error {
	if _, err := s.getRoom(roomID); err != nil {
		return err
	}
	if err := s.store.UpdateParticipantName(roomID, userID, encryptedName); err != nil {
		return err
	}
	if encryptedRenameMsg != "" {
		if _, err := s.store.SaveMessage(roomID, models.SystemUserID, encryptedRenameMsg, models.TypeRename, now); err != nil {
			return err
		}
	}
	return nil
}

// Send appends a user message and returns its ledger id. Ids are assigned by
// the store's sequence, so they are strictly increasing per room and unique
// even under concurrent sends.
func (s *Service) Send(roomID, userID, encryptedContent string, now time.Time) (int64, error) {
	if _, err := s.getRoom(roomID); err != nil {
		return 0, err
	}
	return s.store.SaveMessage(roomID, userID, encryptedContent, models.TypeMessage, now)
}

// Edit replaces a message's ciphertext. Authorship is the whole authorization
// model: a wrong author and a missing message are the same error.
func (s *Service) Edit(messageID int64, userID, encryptedContent string) (int, error) {
	version, err := s.store.EditMessage(messageID, userID, encryptedContent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMessageNotFound
	}
	return version, err
}

// Delete tombstones a message under the same authorship rule. The ciphertext
// stays server-side; deletion is a rendering instruction to clients.
func (s *Service) Delete(messageID int64, userID string) (int, error) {
	version, err := s.store.DeleteMessage(messageID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMessageNotFound
	}
	return version, err
}

// GetMessages serves one poll cycle. Messages holds rows past the client's
// lastID cursor (deleted rows included; first-time viewers skip rendering
// them but still learn their version). Updates holds rows from the client's
// knownVersions map whose stored version has moved past the remembered one,
// which is how edits and deletions reach clients that already rendered a row.
func (s *Service) GetMessages(roomID string, lastID int64, knownVersions map[int64]int) (*SyncResult, error) {
	if _, err := s.getRoom(roomID); err != nil {
		return nil, err
	}

	messages, err := s.store.GetMessagesAfter(roomID, lastID, s.fetchLimit)
	if err != nil {
		return nil, err
	}

	updates := []models.Message{}
	if len(knownVersions) > 0 {
		ids := make([]int64, 0, len(knownVersions))
		for id := range knownVersions {
			ids = append(ids, id)
		}
		rows, err := s.store.GetMessagesByID(roomID, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range rows {
			if known, ok := knownVersions[m.ID]; ok && m.Version > known {
				updates = append(updates, m)
			}
		}
	}

	if messages == nil {
		messages = []models.Message{}
	}
	return &SyncResult{Messages: messages, Updates: updates}, nil
}

// Destroy tears the room down with everything in it.
func (s *Service) Destroy(roomID string) error {
	if _, err := s.getRoom(roomID); err != nil {
		return err
	}
	if err := s.store.DeleteRoom(roomID); err != nil {
		return err
	}
	s.locks.drop(roomID)
	s.log.Info("room destroyed", "room", roomID)
	return nil
}
