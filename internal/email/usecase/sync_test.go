package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dealdesk-backend/internal/classifier"
	dealdomain "dealdesk-backend/internal/deal/domain"
	dealusecase "dealdesk-backend/internal/deal/usecase"
	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/internal/email/repository"
	maildomain "dealdesk-backend/internal/mailaccount/domain"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	mailusecase "dealdesk-backend/internal/mailaccount/usecase"
	"dealdesk-backend/pkg/ai"
	"dealdesk-backend/pkg/config"
	"dealdesk-backend/pkg/database/dbtest"
	"dealdesk-backend/pkg/gmail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testUser = "user-1"

type fakeGateway struct {
	mu sync.Mutex

	messages map[string]*gmail.Message

	delta        []string
	deltaHistory string
	deltaErr     error

	recent        []string
	recentHistory string
	recentErr     error

	getErr map[string]error

	deltaCalls  int
	recentCalls int
	lastMax     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages: make(map[string]*gmail.Message),
		getErr:   make(map[string]error),
	}
}

func (g *fakeGateway) ListNewMessages(ctx context.Context, creds gmail.Credentials, historyID string) ([]string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deltaCalls++
	if g.deltaErr != nil {
		return nil, "", g.deltaErr
	}
	return g.delta, g.deltaHistory, nil
}

func (g *fakeGateway) ListRecentMessages(ctx context.Context, creds gmail.Credentials, max int) ([]string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentCalls++
	g.lastMax = max
	if g.recentErr != nil {
		return nil, "", g.recentErr
	}
	ids := g.recent
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, g.recentHistory, nil
}

func (g *fakeGateway) GetMessage(ctx context.Context, creds gmail.Credentials, id string) (*gmail.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.getErr[id]; err != nil {
		return nil, err
	}
	msg, ok := g.messages[id]
	if !ok {
		return nil, gmail.ErrNotFound
	}
	return msg, nil
}

func (g *fakeGateway) addGeneral(id string) {
	g.messages[id] = &gmail.Message{
		ID:         id,
		ThreadID:   "t-" + id,
		From:       "friend@example.com",
		Subject:    "Lunch next week? " + id,
		Body:       "Are you around on Thursday?",
		ReceivedAt: time.Now().UTC(),
	}
}

func (g *fakeGateway) addDeal(id string) {
	g.messages[id] = &gmail.Message{
		ID:         id,
		ThreadID:   "t-" + id,
		From:       "jane@getacme.io",
		FromName:   "Jane",
		Subject:    "Acme is raising a seed round",
		Body:       "Our deck: https://docsend.com/view/" + id,
		ReceivedAt: time.Now().UTC(),
	}
}

func (g *fakeGateway) addSpam(id string) {
	g.messages[id] = &gmail.Message{
		ID:       id,
		ThreadID: "t-" + id,
		From:     "promo@deals.example",
		Subject:  "You won",
		Body:     "claim now",
		LabelIDs: []string{"SPAM"},
	}
}

// flakyRepo fails the insert of one message a number of times
type flakyRepo struct {
	repository.ClassificationRepository
	mu       sync.Mutex
	failOn   string
	failures int
}

func (r *flakyRepo) InsertIfAbsent(ctx context.Context, c *emaildomain.MessageClassification, deal *dealdomain.Deal) (emaildomain.InsertOutcome, error) {
	r.mu.Lock()
	if c.MessageID == r.failOn && r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return 0, errors.New("connection reset by peer")
	}
	r.mu.Unlock()
	return r.ClassificationRepository.InsertIfAbsent(ctx, c, deal)
}

type recordingNotifier struct {
	deals []*dealdomain.Deal
}

func (n *recordingNotifier) NotifyDeals(ctx context.Context, userID string, deals []*dealdomain.Deal) {
	n.deals = append(n.deals, deals...)
}

type failingModel struct{ calls int }

func (m *failingModel) ClassifyEmail(ctx context.Context, input ai.EmailInput) (*ai.Classification, error) {
	m.calls++
	return nil, errors.New("model unavailable")
}

func (m *failingModel) DraftReply(ctx context.Context, input ai.EmailInput, instructions string) (string, error) {
	return "", errors.New("model unavailable")
}

type syncFixture struct {
	db       *gorm.DB
	gateway  *fakeGateway
	repo     *flakyRepo
	links    mailrepo.LinkRepository
	notifier *recordingNotifier
	model    *failingModel
	runs     repository.SyncRunRepository
	svc      *syncService
}

func newSyncFixture(t *testing.T, retentionCap int) *syncFixture {
	t.Helper()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, testUser)

	classifications, err := repository.NewClassificationRepository(db, retentionCap, nil)
	require.NoError(t, err)

	links := mailrepo.NewLinkRepository(db, nil)
	require.NoError(t, links.Upsert(context.Background(), &maildomain.Link{
		UserID:       testUser,
		EmailAddress: "investor@fund.vc",
		AccessToken:  "access",
		RefreshToken: "refresh",
		Status:       maildomain.StatusActive,
	}))

	rules, err := classifier.NewRules(config.RulesConfig{
		FundraisingKeywords: []string{"raising", "seed round", "pitch deck"},
		DeckLinkPatterns:    []string{`docsend\.com/`},
		SpamKeywords:        []string{"you won", "claim now"},
	})
	require.NoError(t, err)
	model := &failingModel{}
	cls := classifier.New(rules, model, classifier.NewCircuitBreaker(time.Minute), time.Second)

	extractor, err := dealusecase.NewExtractor([]string{`docsend\.com/`})
	require.NoError(t, err)

	f := &syncFixture{
		db:       db,
		gateway:  newFakeGateway(),
		repo:     &flakyRepo{ClassificationRepository: classifications},
		links:    links,
		notifier: &recordingNotifier{},
		model:    model,
	}
	accounts := mailusecase.NewMailAccountUsecase(links, nil, nil, "")
	f.runs = repository.NewSyncRunRepository(db)
	f.svc = NewSyncService(accounts, f.gateway, f.repo, cls, extractor, f.notifier, f.runs, SyncOptions{
		FullSyncMaxMessages: 50,
		FullResyncInterval:  24 * time.Hour,
	}).(*syncService)
	return f
}

// withCursor stores a cursor as though a full sync just completed
func (f *syncFixture) withCursor(t *testing.T, historyID string) {
	t.Helper()
	require.NoError(t, f.links.UpdateSyncState(context.Background(), testUser, maildomain.SyncState{
		HistoryID: historyID,
		SyncedAt:  time.Now(),
		FullSync:  true,
	}))
}

func (f *syncFixture) link(t *testing.T) *maildomain.Link {
	t.Helper()
	link, err := f.links.FindByUserID(context.Background(), testUser)
	require.NoError(t, err)
	return link
}

func (f *syncFixture) counts(t *testing.T) (rows, deals int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&emaildomain.MessageClassification{}).Where("user_id = ?", testUser).Count(&rows).Error)
	require.NoError(t, f.db.Model(&dealdomain.Deal{}).Where("user_id = ?", testUser).Count(&deals).Error)
	return rows, deals
}

func TestSync_FirstRunListsRecentMessages(t *testing.T) {
	f := newSyncFixture(t, 200)
	for i := 0; i < 3; i++ {
		f.gateway.addGeneral(fmt.Sprintf("m%d", i))
		f.gateway.recent = append(f.gateway.recent, fmt.Sprintf("m%d", i))
	}
	f.gateway.recentHistory = "100"

	res, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, SyncModeFull, res.Mode)
	assert.Equal(t, 3, res.Inserted)
	assert.True(t, res.HistoryAdvanced)
	assert.Equal(t, 0, f.gateway.deltaCalls)
	assert.Equal(t, 50, f.gateway.lastMax)

	link := f.link(t)
	assert.Equal(t, "100", link.HistoryID)
	assert.NotNil(t, link.LastFullSyncAt)
}

func TestSync_IdempotentResync(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.addGeneral("m1")
	f.gateway.addDeal("m2")
	f.gateway.delta = []string{"m1", "m2"}
	f.gateway.deltaHistory = "110"

	res, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	// No new mail since the last run
	f.gateway.delta = nil
	res, err = f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.False(t, res.HistoryAdvanced)
	assert.Equal(t, "110", f.link(t).HistoryID)

	// A replayed delta is absorbed as well
	f.gateway.delta = []string{"m1", "m2"}
	res, err = f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.AlreadyStored)

	rows, deals := f.counts(t)
	assert.Equal(t, int64(2), rows)
	assert.Equal(t, int64(1), deals)
}

func TestSync_CursorNotAdvancedWhenMessageFails(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("m%02d", i)
		f.gateway.addGeneral(id)
		f.gateway.delta = append(f.gateway.delta, id)
	}
	f.gateway.deltaHistory = "200"
	f.repo.failOn = "m06"
	f.repo.failures = 1

	res, err := f.svc.Sync(context.Background(), testUser)
	require.ErrorIs(t, err, ErrBatchIncomplete)
	assert.Equal(t, 9, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.HistoryAdvanced)
	assert.Equal(t, "100", f.link(t).HistoryID)

	res, err = f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 9, res.AlreadyStored)
	assert.Equal(t, "200", f.link(t).HistoryID)

	rows, _ := f.counts(t)
	assert.Equal(t, int64(10), rows)

	runs, err := f.runs.ListByUser(context.Background(), testUser, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	outcomes := []string{runs[0].Outcome, runs[1].Outcome}
	assert.ElementsMatch(t, []string{"ok", "incomplete"}, outcomes)
}

func TestSync_NewMessagesOnTopOfExistingRows(t *testing.T) {
	f := newSyncFixture(t, 200)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.repo.InsertIfAbsent(ctx, &emaildomain.MessageClassification{
			UserID:       testUser,
			MessageID:    fmt.Sprintf("old-%d", i),
			Category:     emaildomain.CategoryGeneral,
			Confidence:   0.5,
			Stage:        emaildomain.StageFallback,
			ClassifiedAt: time.Now().Add(-time.Hour),
		}, nil)
		require.NoError(t, err)
	}
	f.withCursor(t, "H0")

	f.gateway.addDeal("d1")
	f.gateway.addDeal("d2")
	f.gateway.addSpam("s1")
	f.gateway.delta = []string{"d1", "d2", "s1"}
	f.gateway.deltaHistory = "H1"

	res, err := f.svc.Sync(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Deals)
	assert.Equal(t, "H1", f.link(t).HistoryID)

	rows, deals := f.counts(t)
	assert.Equal(t, int64(8), rows)
	assert.Equal(t, int64(2), deals)

	spam, err := f.repo.FindByMessageID(ctx, testUser, "s1")
	require.NoError(t, err)
	assert.Equal(t, emaildomain.CategorySpam, spam.Category)
	assert.Nil(t, spam.Deal)

	assert.Len(t, f.notifier.deals, 2)
	assert.Zero(t, f.model.calls, "deterministic matches never reach the model")
}

func TestSync_ModelFailureStillStoresMessage(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.addGeneral("m1")
	f.gateway.delta = []string{"m1"}
	f.gateway.deltaHistory = "101"

	_, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, f.model.calls)

	row, err := f.repo.FindByMessageID(context.Background(), testUser, "m1")
	require.NoError(t, err)
	assert.Equal(t, emaildomain.CategoryGeneral, row.Category)
	assert.Equal(t, emaildomain.StageFallback, row.Stage)
	assert.Equal(t, 0.5, row.Confidence)
}

func TestSync_ExpiredHistoryFallsBackToFullListing(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.deltaErr = fmt.Errorf("list history: %w", gmail.ErrHistoryExpired)
	f.gateway.addGeneral("m1")
	f.gateway.recent = []string{"m1"}
	f.gateway.recentHistory = "500"

	res, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, SyncModeFull, res.Mode)
	assert.Equal(t, 1, f.gateway.deltaCalls)
	assert.Equal(t, 1, f.gateway.recentCalls)
	assert.Equal(t, "500", f.link(t).HistoryID)
}

func TestSync_PeriodicFullResync(t *testing.T) {
	f := newSyncFixture(t, 200)
	require.NoError(t, f.links.UpdateSyncState(context.Background(), testUser, maildomain.SyncState{
		HistoryID: "100",
		SyncedAt:  time.Now().Add(-48 * time.Hour),
		FullSync:  true,
	}))
	f.gateway.recentHistory = "300"

	res, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, SyncModeFull, res.Mode)
	assert.Zero(t, f.gateway.deltaCalls)
}

func TestSync_DeletedMessageIsSkipped(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.addGeneral("m1")
	f.gateway.delta = []string{"m1", "gone"}
	f.gateway.deltaHistory = "101"

	res, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "101", f.link(t).HistoryID)
}

func TestSync_ReauthRequired(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.deltaErr = fmt.Errorf("list history: %w", gmail.ErrReauthRequired)

	_, err := f.svc.Sync(context.Background(), testUser)
	require.ErrorIs(t, err, ErrReauthRequired)

	link := f.link(t)
	assert.Equal(t, maildomain.StatusReauthRequired, link.Status)
	assert.Equal(t, "100", link.HistoryID)

	// No further gateway calls once the link needs reauthorization
	_, err = f.svc.Sync(context.Background(), testUser)
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 1, f.gateway.deltaCalls)
}

func TestSync_RateLimitedMidBatch(t *testing.T) {
	f := newSyncFixture(t, 200)
	f.withCursor(t, "100")
	f.gateway.addGeneral("m1")
	f.gateway.addGeneral("m2")
	f.gateway.getErr["m2"] = fmt.Errorf("get message: %w", gmail.ErrRateLimited)
	f.gateway.delta = []string{"m1", "m2"}
	f.gateway.deltaHistory = "101"

	_, err := f.svc.Sync(context.Background(), testUser)
	require.ErrorIs(t, err, ErrRateLimited)

	link := f.link(t)
	assert.Equal(t, maildomain.StatusActive, link.Status)
	assert.Equal(t, "100", link.HistoryID)
}

func TestSync_AccountNotLinked(t *testing.T) {
	f := newSyncFixture(t, 200)
	_, err := f.svc.Sync(context.Background(), "user-without-link")
	assert.ErrorIs(t, err, ErrAccountNotLinked)
}

func TestSync_RetentionAppliesDuringSync(t *testing.T) {
	f := newSyncFixture(t, 3)
	f.withCursor(t, "100")
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("m%d", i)
		f.gateway.addGeneral(id)
		f.gateway.delta = append(f.gateway.delta, id)
	}
	f.gateway.deltaHistory = "106"

	_, err := f.svc.Sync(context.Background(), testUser)
	require.NoError(t, err)

	rows, _ := f.counts(t)
	assert.Equal(t, int64(3), rows)
}
