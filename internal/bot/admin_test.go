package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-bot/internal/model"
	"reward-bot/internal/repository"
)

func TestStatsUnauthorizedTouchesNoStore(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	b, api := newTestBot(t, store, nil)

	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(5, "/stats")))
	assert.Equal(t, []string{textUnauthorized}, api.sentTexts())
	assert.Zero(t, store.calls.Load())
}

func TestStatsEmpty(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(adminID, "/stats")))
	assert.Equal(t, []string{textNoUsers}, api.sentTexts())
}

func TestStatsListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seen := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, store.EnsureUser(ctx, 1, "alice", seen))
	require.NoError(t, store.EnsureUser(ctx, 2, "", seen))
	_, err := store.RecordSuccessfulFetch(ctx, 1, "R1", model.Report{model.FieldRoll: "R1"}, seen)
	require.NoError(t, err)

	b, api := newTestBot(t, store, nil)
	require.NoError(t, b.HandleUpdate(ctx, textUpdate(adminID, "/stats")))

	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "📊 Total unique users: 2\n\n👥 Users:\n"), texts[0])
	assert.Contains(t, texts[0], "@alice | Last seen: 2024-05-01 10:30:00 | Requests: 1")
	assert.Contains(t, texts[0], "2 | Last seen: 2024-05-01 10:30:00 | Requests: 0")
}

func TestStatsSplitsLongListing(t *testing.T) {
	users := make([]model.User, 0, 200)
	for i := 0; i < 200; i++ {
		users = append(users, model.User{ID: int64(i + 1), Username: fmt.Sprintf("student_with_long_handle_%03d", i), LastSeen: time.Now()})
	}
	text := formatStats(int64(len(users)), users)
	chunks := splitMessage(text, maxMessageLen)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxMessageLen)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestStatsStoreDown(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(adminID, "/stats")))
	assert.Equal(t, []string{textStorageUnavailable}, api.sentTexts())
}

func TestBroadcast(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, store.EnsureUser(ctx, id, "", time.Now()))
	}

	b, api := newTestBot(t, store, nil)
	api.failSend = map[int64]bool{2: true}
	require.NoError(t, b.HandleUpdate(ctx, textUpdate(adminID, "/broadcast exam <b>tomorrow</b>")))

	texts := api.sentTexts()
	require.Len(t, texts, 3)
	assert.Equal(t, "✅ Message sent to 2 of 3 users.", texts[2])
	var recipients []int64
	for _, m := range api.messages[:2] {
		recipients = append(recipients, m.ChatID)
		assert.Equal(t, "📢 Broadcast:\nexam <b>tomorrow</b>", m.Text)
		assert.Empty(t, m.ParseMode)
	}
	assert.ElementsMatch(t, []int64{1, 3}, recipients)
}

func TestBroadcastEmpty(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(adminID, "/broadcast   ")))
	assert.Equal(t, []string{textEmptyBroadcast}, api.sentTexts())
}

func TestBroadcastUnauthorized(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	b, api := newTestBot(t, store, nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(6, "/broadcast hi")))
	assert.Equal(t, []string{textUnauthorized}, api.sentTexts())
	assert.Zero(t, store.calls.Load())
}

func TestBroadcastStoreDown(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(adminID, "/broadcast hi")))
	assert.Equal(t, []string{textStorageUnavailable}, api.sentTexts())
}

func TestSendDigest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureUser(context.Background(), 1, "a", time.Now()))
	b, api := newTestBot(t, store, nil)

	require.NoError(t, b.SendDigest(context.Background()))
	require.Len(t, api.messages, 1)
	assert.Equal(t, adminID, api.messages[0].ChatID)
	assert.Equal(t, "📊 Daily digest: 1 users.", api.messages[0].Text)
}

func TestSendDigestStoreDown(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), nil)
	err := b.SendDigest(context.Background())
	require.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.Empty(t, api.sentTexts())
}
