package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xsukax/ephemchat/internal/models"
	"github.com/xsukax/ephemchat/internal/store/sqlstore"
)

var t0 = time.Unix(1700000000, 0)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, slog.Default(), Options{})
}

func TestCreateAndVerifyRoom(t *testing.T) {
	svc := newTestService(t)

	roomID, err := svc.CreateRoom("hunter2x", t0)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), roomID)

	res, err := svc.VerifyRoom(roomID, "userA", "hunter2x", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(23*3600), res.RemainingTime)
	require.Equal(t, 0, res.ParticipantCount)
	require.False(t, res.AlreadyIn)

	_, err = svc.VerifyRoom(roomID, "userA", "wrong", t0)
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = svc.VerifyRoom("deadbeefdeadbeefdeadbeefdeadbeef", "userA", "hunter2x", t0)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestAdmissionCap(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	_, err := svc.Join(roomID, "userA", "nameA", "", t0)
	require.NoError(t, err)
	res, err := svc.Join(roomID, "userB", "nameB", "", t0)
	require.NoError(t, err)
	require.Len(t, res.Participants, 2)

	// A third distinct user bounces
	_, err = svc.Join(roomID, "userC", "nameC", "", t0)
	require.ErrorIs(t, err, ErrRoomFull)

	// Members always re-enter, full or not
	_, err = svc.Join(roomID, "userA", "nameA", "", t0.Add(time.Second))
	require.NoError(t, err)

	// verify_chat applies the same full check
	_, err = svc.VerifyRoom(roomID, "userC", "pw", t0)
	require.ErrorIs(t, err, ErrRoomFull)
	vres, err := svc.VerifyRoom(roomID, "userA", "pw", t0)
	require.NoError(t, err)
	require.True(t, vres.AlreadyIn)
}

func TestJoinAfterEvictionFreesSeat(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	svc.Join(roomID, "userA", "nameA", "", t0)
	svc.Join(roomID, "userB", "nameB", "", t0)

	// A goes silent past the heartbeat window; C takes the seat
	late := t0.Add(DefaultHeartbeatTimeout + time.Second)
	svc.Heartbeat(roomID, "userB", "nameB", late)
	res, err := svc.Join(roomID, "userC", "nameC", "", late)
	require.NoError(t, err)
	require.Len(t, res.Participants, 2)
}

func TestHeartbeatEvictsAndNotifies(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	svc.Join(roomID, "userA", "nameA_cipher", "", t0)
	svc.Join(roomID, "userB", "nameB_cipher", "", t0)

	late := t0.Add(DefaultHeartbeatTimeout + time.Second)
	res, err := svc.Heartbeat(roomID, "userB", "nameB_cipher", late)
	require.NoError(t, err)

	require.Len(t, res.Removed, 2) // both were stale; B was readmitted by the upsert
	require.Len(t, res.Participants, 1)
	require.Equal(t, "userB", res.Participants[0].UserID)

	// One leave notice, for A only, carrying A's last known encrypted name
	got, err := svc.GetMessages(roomID, 0, nil)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	notice := got.Messages[0]
	require.Equal(t, models.SystemUserID, notice.UserID)
	require.Equal(t, models.TypeLeave, notice.Type)

	var payload struct {
		Type          string `json:"type"`
		EncryptedName string `json:"encrypted_name"`
	}
	require.NoError(t, json.Unmarshal([]byte(notice.EncryptedContent), &payload))
	require.Equal(t, "timeout_leave", payload.Type)
	require.Equal(t, "nameA_cipher", payload.EncryptedName)

	// Eviction is idempotent: the next heartbeat removes no one
	res, err = svc.Heartbeat(roomID, "userB", "nameB_cipher", late.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, res.Removed)
}

func TestJoinNotificationPolicy(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	// First join with a notice appends it
	_, err := svc.Join(roomID, "userA", "nameA", "join_cipher", t0)
	require.NoError(t, err)
	got, _ := svc.GetMessages(roomID, 0, nil)
	require.Len(t, got.Messages, 1)
	require.Equal(t, models.TypeJoin, got.Messages[0].Type)
	require.Equal(t, "join_cipher", got.Messages[0].EncryptedContent)

	// Re-entry never re-announces
	_, err = svc.Join(roomID, "userA", "nameA", "join_cipher_again", t0.Add(time.Second))
	require.NoError(t, err)
	got, _ = svc.GetMessages(roomID, 0, nil)
	require.Len(t, got.Messages, 1)
}

func TestLeave(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)
	svc.Join(roomID, "userA", "nameA", "", t0)

	require.NoError(t, svc.Leave(roomID, "userA", "leave_cipher", t0))
	got, _ := svc.GetMessages(roomID, 0, nil)
	require.Len(t, got.Messages, 1)
	require.Equal(t, models.TypeLeave, got.Messages[0].Type)

	// Leaving again, or leaving a vanished room, is fine
	require.NoError(t, svc.Leave(roomID, "userA", "", t0))
	require.NoError(t, svc.Leave("deadbeefdeadbeefdeadbeefdeadbeef", "userA", "x", t0))
}

func TestRename(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)
	svc.Join(roomID, "userA", "old_cipher", "", t0)

	require.NoError(t, svc.Rename(roomID, "userA", "new_cipher", "rename_cipher", t0))

	res, _ := svc.Heartbeat(roomID, "userA", "new_cipher", t0.Add(time.Second))
	require.Equal(t, "new_cipher", res.Participants[0].EncryptedName)

	got, _ := svc.GetMessages(roomID, 0, nil)
	require.Len(t, got.Messages, 1)
	require.Equal(t, models.TypeRename, got.Messages[0].Type)
}

func TestMessageLifecycle(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)
	svc.Join(roomID, "userA", "nameA", "", t0)

	id, err := svc.Send(roomID, "userA", "v1_cipher", t0)
	require.NoError(t, err)

	got, err := svc.GetMessages(roomID, 0, nil)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, 1, got.Messages[0].Version)

	// Edit bumps to 2; a client that knew version 1 gets the update
	version, err := svc.Edit(id, "userA", "v2_cipher")
	require.NoError(t, err)
	require.Equal(t, 2, version)

	got, err = svc.GetMessages(roomID, id, map[int64]int{id: 1})
	require.NoError(t, err)
	require.Empty(t, got.Messages)
	require.Len(t, got.Updates, 1)
	require.Equal(t, "v2_cipher", got.Updates[0].EncryptedContent)
	require.True(t, got.Updates[0].Edited)

	// A client already at version 2 gets nothing
	got, err = svc.GetMessages(roomID, id, map[int64]int{id: 2})
	require.NoError(t, err)
	require.Empty(t, got.Updates)

	// Delete bumps to 3 and reaches clients that predate it
	version, err = svc.Delete(id, "userA")
	require.NoError(t, err)
	require.Equal(t, 3, version)

	got, err = svc.GetMessages(roomID, id, map[int64]int{id: 2})
	require.NoError(t, err)
	require.Len(t, got.Updates, 1)
	require.True(t, got.Updates[0].Deleted)

	// The tombstone still appears to first-time viewers so they learn its id
	got, err = svc.GetMessages(roomID, 0, nil)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.True(t, got.Messages[0].Deleted)
}

func TestEditAuthorship(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)
	id, _ := svc.Send(roomID, "userA", "cipher", t0)

	_, err := svc.Edit(id, "userB", "hijack")
	require.ErrorIs(t, err, ErrMessageNotFound)
	_, err = svc.Delete(id, "userB")
	require.ErrorIs(t, err, ErrMessageNotFound)
	_, err = svc.Edit(99999, "userA", "nothing")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDestroy(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)
	svc.Join(roomID, "userA", "nameA", "", t0)
	svc.Send(roomID, "userA", "cipher", t0)

	require.NoError(t, svc.Destroy(roomID))
	require.ErrorIs(t, svc.Destroy(roomID), ErrRoomNotFound)
	_, err := svc.GetMessages(roomID, 0, nil)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestExpireRooms(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	// Inside the lifetime nothing happens
	svc.ExpireRooms(t0.Add(23 * time.Hour))
	_, err := svc.VerifyRoom(roomID, "userA", "pw", t0.Add(23*time.Hour))
	require.NoError(t, err)

	svc.ExpireRooms(t0.Add(DefaultLifetime + time.Minute))
	_, err = svc.VerifyRoom(roomID, "userA", "pw", t0.Add(DefaultLifetime+time.Minute))
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestConcurrentJoinsRespectCap(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted []string
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user%d", n)
			_, err := svc.Join(roomID, userID, "name", "", t0)
			if err == nil {
				mu.Lock()
				admitted = append(admitted, userID)
				mu.Unlock()
			} else if !errors.Is(err, ErrRoomFull) {
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, admitted, DefaultMaxParticipants)
	res, err := svc.Heartbeat(roomID, admitted[0], "name", t0)
	require.NoError(t, err)
	require.Len(t, res.Participants, DefaultMaxParticipants)
}

func TestConcurrentSendsAssignUniqueIDs(t *testing.T) {
	svc := newTestService(t)
	roomID, _ := svc.CreateRoom("pw", t0)

	var wg sync.WaitGroup
	ids := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.Send(roomID, "userA", "cipher", t0)
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate message id %d", id)
		seen[id] = true
	}
	require.Len(t, seen, 20)
}
