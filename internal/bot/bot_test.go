package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reward-bot/internal/config"
	"reward-bot/internal/lookup"
	"reward-bot/internal/model"
	"reward-bot/internal/repository"
)

const adminID int64 = 42

type fakeAPI struct {
	mu        sync.Mutex
	nextID    int
	messages  []tgbotapi.MessageConfig
	edits     []tgbotapi.EditMessageTextConfig
	requests  []tgbotapi.Chattable
	failFinal bool
	failSend  map[int64]bool
	// beforeEdit runs outside mu ahead of every edit.
	beforeEdit func(tgbotapi.EditMessageTextConfig)
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if e, ok := c.(tgbotapi.EditMessageTextConfig); ok && f.beforeEdit != nil {
		f.beforeEdit(e)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		if f.failSend[v.ChatID] {
			return tgbotapi.Message{}, errors.New("chat not found")
		}
		f.nextID++
		f.messages = append(f.messages, v)
		return tgbotapi.Message{MessageID: f.nextID, Chat: &tgbotapi.Chat{ID: v.ChatID}, Text: v.Text}, nil
	case tgbotapi.EditMessageTextConfig:
		if f.failFinal && v.ParseMode == tgbotapi.ModeHTML {
			return tgbotapi.Message{}, errors.New("message to edit not found")
		}
		f.edits = append(f.edits, v)
		return tgbotapi.Message{MessageID: v.MessageID, Text: v.Text}, nil
	}
	return tgbotapi.Message{}, fmt.Errorf("unexpected chattable %T", c)
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeAPI) editsSnapshot() []tgbotapi.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.EditMessageTextConfig(nil), f.edits...)
}

func (f *fakeAPI) lastEdit(t *testing.T) tgbotapi.EditMessageTextConfig {
	t.Helper()
	edits := f.editsSnapshot()
	require.NotEmpty(t, edits)
	return edits[len(edits)-1]
}

type lookupFunc func(ctx context.Context, roll string) (model.Report, error)

func (f lookupFunc) Fetch(ctx context.Context, roll string) (model.Report, error) {
	return f(ctx, roll)
}

// countingStore counts calls into the wrapped store.
type countingStore struct {
	repository.Store
	calls atomic.Int64
}

func (s *countingStore) EnsureUser(ctx context.Context, id int64, handle string, seenAt time.Time) error {
	s.calls.Add(1)
	return s.Store.EnsureUser(ctx, id, handle, seenAt)
}

func (s *countingStore) RecordSuccessfulFetch(ctx context.Context, userID int64, key string, payload model.Report, seenAt time.Time) (string, error) {
	s.calls.Add(1)
	return s.Store.RecordSuccessfulFetch(ctx, userID, key, payload, seenAt)
}

func (s *countingStore) GetLastReport(ctx context.Context, userID int64) (model.Report, error) {
	s.calls.Add(1)
	return s.Store.GetLastReport(ctx, userID)
}

func (s *countingStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	s.calls.Add(1)
	return s.Store.ListUserIDs(ctx)
}

func (s *countingStore) CountUsers(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	return s.Store.CountUsers(ctx)
}

func (s *countingStore) ListUsers(ctx context.Context) ([]model.User, error) {
	s.calls.Add(1)
	return s.Store.ListUsers(ctx)
}

func testConfig() *config.Config {
	return &config.Config{
		AdminID:          adminID,
		AdminContactURL:  "https://t.me/admin",
		ProgressInterval: 5 * time.Millisecond,
		DedupTTL:         time.Minute,
		DedupSize:        100,
		BroadcastWorkers: 2,
	}
}

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "bot.db")
	store, err := repository.Open(context.Background(), repository.Options{DSN: dsn, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBot(t *testing.T, store repository.Store, lk Lookup) (*Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	return New(api, store, lk, testConfig(), zap.NewNop()), api
}

var updateSeq atomic.Int64

func textUpdate(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: fmt.Sprintf("user%d", userID), FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: int(updateSeq.Add(1)), Message: msg}
}

func sampleReport() model.Report {
	return model.Report{
		model.FieldRoll:        "7376221CS259",
		model.FieldStudentName: "Asha <K>",
		model.FieldCourseCode:  "CS",
		model.FieldDepartment:  "CSE",
		model.FieldYear:        "III",
		model.FieldMentor:      "Dr. R",
		model.FieldCumPoints:   float64(1200),
		model.FieldRedeemed:    float64(200),
		model.FieldBalance:     float64(1000),
		model.FieldYearAvg:     float64(92.5),
		model.FieldStatus:      "Active",
	}
}

const sampleReportText = "<pre>\n" +
	"Roll No : 7376221CS259\n" +
	"Student Name : Asha &lt;K&gt;\n" +
	"Course Code : CS\n" +
	"Department : CSE\n" +
	"Year : III\n" +
	"Mentor : Dr. R\n" +
	"Cum. Points : 1200\n" +
	"Redeemed : 200\n" +
	"Balance : 1000\n" +
	"Year Avg : 92.5\n" +
	"Status : Active\n" +
	"</pre>"

func TestFetchSuccess(t *testing.T) {
	store := newTestStore(t)
	b, api := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		assert.Equal(t, "7376221CS259", roll)
		time.Sleep(40 * time.Millisecond)
		return sampleReport(), nil
	}))
	ctx := context.Background()

	outcome, err := b.fetchReport(ctx, textUpdate(7, "  7376221CS259 ").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeSuccess, outcome)

	require.Len(t, api.messages, 1)
	assert.Equal(t, "⏳ Fetching your data...\n[□□□□] 0%", api.messages[0].Text)

	final := api.lastEdit(t)
	assert.Equal(t, sampleReportText, final.Text)
	assert.Equal(t, tgbotapi.ModeHTML, final.ParseMode)
	require.NotNil(t, final.ReplyMarkup)
	row := final.ReplyMarkup.InlineKeyboard[0]
	assert.Equal(t, btnCheckAnother, row[0].Text)
	assert.Equal(t, cbCheckAnother, *row[0].CallbackData)
	assert.Equal(t, "https://t.me/admin", *row[1].URL)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.EqualValues(t, 1, users[0].TotalRequests)

	last, err := store.GetLastReport(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Asha <K>", last.Text(model.FieldStudentName, ""))
}

func TestFetchNoAnimatorEditAfterFinal(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		time.Sleep(60 * time.Millisecond)
		return sampleReport(), nil
	}))

	_, err := b.fetchReport(context.Background(), textUpdate(8, "7376221CS259").Message)
	require.NoError(t, err)

	edits := api.editsSnapshot()
	require.Greater(t, len(edits), 1, "animator should have drawn frames")
	for _, e := range edits[:len(edits)-1] {
		assert.True(t, strings.HasPrefix(e.Text, textFetching))
		assert.Empty(t, e.ParseMode)
	}
	assert.Equal(t, "⏳ Fetching your data...\n[■□□□] 25%", edits[0].Text)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, api.editsSnapshot(), len(edits))
	assert.Equal(t, sampleReportText, api.lastEdit(t).Text)
}

func TestFetchLookupReturnsDuringProgressEdit(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(ev string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	b, api := newTestBot(t, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		<-entered
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(release)
		}()
		record("lookup returned")
		return sampleReport(), nil
	}))
	api.beforeEdit = func(e tgbotapi.EditMessageTextConfig) {
		if e.ParseMode == tgbotapi.ModeHTML {
			record("final")
			return
		}
		record("progress")
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			close(entered)
			<-release
			record("progress released")
		}
	}

	outcome, err := b.fetchReport(context.Background(), textUpdate(25, "7376221CS259").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeSuccess, outcome)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"progress", "lookup returned", "progress released", "final"}, events)
	assert.Equal(t, sampleReportText, api.lastEdit(t).Text)
}

func TestFetchDomainFailure(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	b, api := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return nil, &lookup.NotFoundError{Message: "no such roll"}
	}))

	outcome, err := b.fetchReport(context.Background(), textUpdate(9, "BAD").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeNotFound, outcome)
	assert.Equal(t, "❌ no such roll", api.lastEdit(t).Text)
	assert.Nil(t, api.lastEdit(t).ReplyMarkup)

	last, err := store.GetLastReport(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, last)
	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Zero(t, users[0].TotalRequests)
}

func TestFetchDomainFailureWithoutMessage(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return nil, &lookup.NotFoundError{}
	}))

	_, err := b.fetchReport(context.Background(), textUpdate(10, "X").Message)
	require.NoError(t, err)
	assert.Equal(t, "❌ Student not found.", api.lastEdit(t).Text)
}

func TestFetchTimeout(t *testing.T) {
	store := newTestStore(t)
	b, api := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return nil, fmt.Errorf("%w: context deadline exceeded", lookup.ErrTimeout)
	}))

	outcome, err := b.fetchReport(context.Background(), textUpdate(11, "7376221CS259").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeTransportError, outcome)
	final := api.lastEdit(t).Text
	assert.True(t, strings.HasPrefix(final, "❌ Error calling API: "), final)
	assert.Contains(t, final, "lookup timed out")

	last, err := store.GetLastReport(context.Background(), 11)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestFetchEmptyInput(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	called := false
	b, api := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		called = true
		return nil, nil
	}))

	outcome, err := b.fetchReport(context.Background(), textUpdate(12, "   ").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeRejected, outcome)
	assert.False(t, called)
	assert.Zero(t, store.calls.Load())
	assert.Equal(t, []string{textEmptyRoll}, api.sentTexts())
	assert.Empty(t, api.editsSnapshot())
}

func TestFetchStoreUnavailable(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return sampleReport(), nil
	}))

	outcome, err := b.fetchReport(context.Background(), textUpdate(13, "7376221CS259").Message)
	require.NoError(t, err)
	assert.Equal(t, outcomeStoreError, outcome)
	assert.Equal(t, textStoreFailed, api.lastEdit(t).Text)
	assert.Nil(t, api.lastEdit(t).ReplyMarkup)
}

func TestFetchFinalEditFallsBackToNewMessage(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return sampleReport(), nil
	}))
	api.failFinal = true

	_, err := b.fetchReport(context.Background(), textUpdate(14, "7376221CS259").Message)
	require.NoError(t, err)

	texts := api.sentTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, sampleReportText, texts[1])
	var deleted bool
	for _, r := range api.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted = d.MessageID == 1
		}
	}
	assert.True(t, deleted)
}

func TestFetchUsesCache(t *testing.T) {
	var calls atomic.Int64
	api := &fakeAPI{}
	cfg := testConfig()
	cfg.CacheTTL = time.Minute
	b := New(api, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		calls.Add(1)
		return sampleReport(), nil
	}), cfg, zap.NewNop())

	for i := 0; i < 2; i++ {
		outcome, err := b.fetchReport(context.Background(), textUpdate(15, "7376221CS259").Message)
		require.NoError(t, err)
		assert.Equal(t, outcomeSuccess, outcome)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestConcurrentFetchesCountEach(t *testing.T) {
	store := newTestStore(t)
	b, _ := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		time.Sleep(10 * time.Millisecond)
		return model.Report{model.FieldRoll: roll}, nil
	}))

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, b.HandleUpdate(context.Background(), textUpdate(16, fmt.Sprintf("R%d", i))))
		}(i)
	}
	wg.Wait()

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.EqualValues(t, n, users[0].TotalRequests)
}

func TestHandleUpdateDropsDuplicates(t *testing.T) {
	var calls atomic.Int64
	b, _ := newTestBot(t, newTestStore(t), lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		calls.Add(1)
		return sampleReport(), nil
	}))

	upd := textUpdate(17, "7376221CS259")
	require.NoError(t, b.HandleUpdate(context.Background(), upd))
	require.NoError(t, b.HandleUpdate(context.Background(), upd))
	assert.EqualValues(t, 1, calls.Load())
}

func TestHandleUpdateIgnoresBots(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), nil)
	upd := textUpdate(18, "7376221CS259")
	upd.Message.From.IsBot = true

	require.NoError(t, b.HandleUpdate(context.Background(), upd))
	assert.Empty(t, api.sentTexts())
}

func TestStartCommand(t *testing.T) {
	store := newTestStore(t)
	b, api := newTestBot(t, store, nil)

	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(19, "/start")))
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(19, "/start")))

	texts := api.sentTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, "👋 Hi Ann! Send your roll number (e.g., 7376221CS259) to get your student report.", texts[0])

	n, err := store.CountUsers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStartWithStoreDown(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(20, "/start")))
	require.Len(t, api.sentTexts(), 1)
	assert.True(t, strings.HasPrefix(api.sentTexts()[0], "👋 Hi Ann!"))
}

func TestUnknownCommand(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(21, "/nope")))
	assert.Equal(t, []string{textUnknownCommand}, api.sentTexts())
}

func TestCheckAnotherCallback(t *testing.T) {
	b, api := newTestBot(t, newTestStore(t), nil)
	upd := tgbotapi.Update{
		UpdateID: int(updateSeq.Add(1)),
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			From:    &tgbotapi.User{ID: 22},
			Message: &tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: 22}},
			Data:    cbCheckAnother,
		},
	}

	require.NoError(t, b.HandleUpdate(context.Background(), upd))
	require.Len(t, api.requests, 1)
	ack, ok := api.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", ack.CallbackQueryID)

	edit := api.lastEdit(t)
	assert.Equal(t, 77, edit.MessageID)
	assert.Equal(t, textCheckAnother, edit.Text)
}

func TestLastReport(t *testing.T) {
	store := newTestStore(t)
	b, api := newTestBot(t, store, lookupFunc(func(ctx context.Context, roll string) (model.Report, error) {
		return sampleReport(), nil
	}))
	ctx := context.Background()

	require.NoError(t, b.HandleUpdate(ctx, textUpdate(23, "/lastreport")))
	assert.Equal(t, textNoLastReport, api.sentTexts()[0])

	require.NoError(t, b.HandleUpdate(ctx, textUpdate(23, "7376221CS259")))
	require.NoError(t, b.HandleUpdate(ctx, textUpdate(23, "/lastreport")))
	texts := api.sentTexts()
	assert.Equal(t, sampleReportText, texts[len(texts)-1])
	assert.NotNil(t, api.messages[len(api.messages)-1].ReplyMarkup)
}

func TestLastReportStoreDown(t *testing.T) {
	b, api := newTestBot(t, repository.NewUnavailable(nil), nil)
	require.NoError(t, b.HandleUpdate(context.Background(), textUpdate(24, "/lastreport")))
	assert.Equal(t, []string{textStorageUnavailable}, api.sentTexts())
}
