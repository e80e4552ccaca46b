package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(id, room string, at time.Time) *domain.Message {
	return &domain.Message{ID: id, RoomID: room, Content: id, CreatedAt: at}
}

func TestCreateIsIdempotent(t *testing.T) {
	repo := NewMessageRepository(10)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, message("m1", "r1", now)))
	replay := message("m1", "r1", now)
	replay.Content = "edited"
	require.NoError(t, repo.Create(ctx, replay))

	msgs, hasMore, err := repo.ListByRoom(ctx, "r1", time.Time{}, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Content)
}

func TestCreateRejectsInvalid(t *testing.T) {
	repo := NewMessageRepository(10)
	assert.ErrorIs(t, repo.Create(context.Background(), &domain.Message{ID: "m1"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, repo.Create(context.Background(), nil), domain.ErrInvalidInput)
}

func TestCapacityEvictsOldest(t *testing.T) {
	repo := NewMessageRepository(3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, message(fmt.Sprintf("m%d", i), "r1", base.Add(time.Duration(i)*time.Second))))
	}

	msgs, _, err := repo.ListByRoom(ctx, "r1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].ID)

	_, err = repo.GetByID(ctx, "m0")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestListByRoomPagesBackwards(t *testing.T) {
	repo := NewMessageRepository(100)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, message(fmt.Sprintf("m%d", i), "r1", base.Add(time.Duration(i)*time.Second))))
	}

	page, hasMore, err := repo.ListByRoom(ctx, "r1", time.Time{}, 2)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []string{"m3", "m4"}, []string{page[0].ID, page[1].ID})

	page, hasMore, err = repo.ListByRoom(ctx, "r1", page[0].CreatedAt, 2)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []string{"m1", "m2"}, []string{page[0].ID, page[1].ID})

	page, hasMore, err = repo.ListByRoom(ctx, "r1", page[0].CreatedAt, 2)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].ID)
}

func TestApplyReaction(t *testing.T) {
	repo := NewMessageRepository(10)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, message("m1", "r1", time.Now())))

	msg, err := repo.ApplyReaction(ctx, "m1", "🔥", "u1", domain.ReactionAdd)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, msg.Reactions["🔥"])

	// Returned copies do not alias stored state.
	msg.Reactions["🔥"][0] = "mutated"
	stored, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, stored.Reactions["🔥"])

	_, err = repo.ApplyReaction(ctx, "missing", "🔥", "u1", domain.ReactionAdd)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestMarkReadOncePerUser(t *testing.T) {
	repo := NewMessageRepository(10)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, message("m1", "r1", time.Now())))

	at := time.Now()
	msg, changed, err := repo.MarkRead(ctx, "m1", "u1", at)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, "u1", msg.ReadBy[0].UserID)

	msg, changed, err = repo.MarkRead(ctx, "m1", "u1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, msg.ReadBy, 1)
	assert.True(t, msg.ReadBy[0].ReadAt.Equal(at))

	_, _, err = repo.MarkRead(ctx, "missing", "u1", at)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestNotificationStoreExpires(t *testing.T) {
	store := NewNotificationStore().(*notificationStore)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Notification{UserID: "u2", MessageID: "m1"}, time.Hour))
	got, err := store.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	now = now.Add(2 * time.Hour)
	got, err = store.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditNewestFirst(t *testing.T) {
	repo := NewRoomAuditRepository(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Log(ctx, &domain.RoomAuditLog{ID: id, RoomID: "r1"}))
	}

	logs, err := repo.GetByRoomID(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].ID)
	assert.Equal(t, "b", logs[1].ID)
}
