package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealdesk-backend/internal/classifier"
	dealdomain "dealdesk-backend/internal/deal/domain"
	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/internal/email/repository"
	maildomain "dealdesk-backend/internal/mailaccount/domain"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/gmail"
	"dealdesk-backend/pkg/metrics"

	"github.com/rs/zerolog/log"
)

var (
	ErrAccountNotLinked = errors.New("no mailbox linked")
	// ErrReauthRequired and ErrRateLimited are the gateway's errors, so
	// errors.Is works with either package.
	ErrReauthRequired  = gmail.ErrReauthRequired
	ErrRateLimited     = gmail.ErrRateLimited
	ErrBatchIncomplete = errors.New("sync batch incomplete")
)

type SyncMode string

const (
	SyncModeDelta SyncMode = "delta"
	SyncModeFull  SyncMode = "full"
)

// MailGateway is the part of the mail provider a sync needs
type MailGateway interface {
	ListNewMessages(ctx context.Context, creds gmail.Credentials, historyID string) ([]string, string, error)
	ListRecentMessages(ctx context.Context, creds gmail.Credentials, max int) ([]string, string, error)
	GetMessage(ctx context.Context, creds gmail.Credentials, id string) (*gmail.Message, error)
}

// AccountStore reads and advances the per-user sync cursor
type AccountStore interface {
	Get(ctx context.Context, userID string) (*maildomain.Link, error)
	Credentials(link *maildomain.Link) gmail.Credentials
	MarkReauthRequired(ctx context.Context, userID string) error
	UpdateSyncState(ctx context.Context, userID string, state maildomain.SyncState) error
}

type MessageClassifier interface {
	Classify(ctx context.Context, msg *gmail.Message) *classifier.Result
}

type DealExtractor interface {
	Extract(msg *gmail.Message) *dealdomain.Deal
}

// DealNotifier is told about deals created by a sync. Implementations must
// not block for long; failures are theirs to log.
type DealNotifier interface {
	NotifyDeals(ctx context.Context, userID string, deals []*dealdomain.Deal)
}

type SyncOptions struct {
	FullSyncMaxMessages int
	FullResyncInterval  time.Duration
}

// SyncResult summarises one run
type SyncResult struct {
	Mode            SyncMode `json:"mode"`
	Listed          int      `json:"listed"`
	Inserted        int      `json:"inserted"`
	AlreadyStored   int      `json:"already_stored"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	Deals           int      `json:"deals"`
	HistoryID       string   `json:"history_id"`
	HistoryAdvanced bool     `json:"history_advanced"`
}

// SyncService pulls new mail for one user, classifies it and stores the
// result. The stored cursor only moves after every message of the batch is
// either stored or known to be gone.
type SyncService interface {
	Sync(ctx context.Context, userID string) (*SyncResult, error)
}

type syncService struct {
	accounts        AccountStore
	gateway         MailGateway
	classifications repository.ClassificationRepository
	classifier      MessageClassifier
	extractor       DealExtractor
	notifier        DealNotifier
	runs            repository.SyncRunRepository
	opts            SyncOptions
	now             func() time.Time
}

func NewSyncService(
	accounts AccountStore,
	gateway MailGateway,
	classifications repository.ClassificationRepository,
	cls MessageClassifier,
	extractor DealExtractor,
	notifier DealNotifier,
	runs repository.SyncRunRepository,
	opts SyncOptions,
) SyncService {
	if opts.FullSyncMaxMessages <= 0 {
		opts.FullSyncMaxMessages = 200
	}
	return &syncService{
		accounts:        accounts,
		gateway:         gateway,
		classifications: classifications,
		classifier:      cls,
		extractor:       extractor,
		notifier:        notifier,
		runs:            runs,
		opts:            opts,
		now:             time.Now,
	}
}

func (s *syncService) Sync(ctx context.Context, userID string) (result *SyncResult, err error) {
	start := s.now()
	result = &SyncResult{}
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrReauthRequired):
			outcome = "reauth_required"
		case errors.Is(err, ErrRateLimited):
			outcome = "rate_limited"
		case errors.Is(err, ErrBatchIncomplete):
			outcome = "incomplete"
		case err != nil:
			outcome = "error"
		}
		metrics.SyncRuns.WithLabelValues(string(result.Mode), outcome).Inc()
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
		s.recordRun(ctx, userID, start, outcome, result, err)
	}()

	link, err := s.accounts.Get(ctx, userID)
	if errors.Is(err, mailrepo.ErrLinkNotFound) {
		return result, ErrAccountNotLinked
	}
	if err != nil {
		return result, fmt.Errorf("failed to load mailbox link: %w", err)
	}
	if link.Status == maildomain.StatusReauthRequired {
		return result, ErrReauthRequired
	}
	creds := s.accounts.Credentials(link)

	ids, historyID, err := s.list(ctx, link, creds, result)
	if err != nil {
		return result, s.gatewayFailure(ctx, userID, err)
	}
	result.Listed = len(ids)
	if historyID == "" {
		historyID = link.HistoryID
	}

	existing, err := s.classifications.ExistingMessageIDs(ctx, userID, ids)
	if err != nil {
		return result, fmt.Errorf("failed to check stored messages: %w", err)
	}

	var deals []*dealdomain.Deal
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			result.AlreadyStored++
			continue
		}

		outcome, deal, err := s.processMessage(ctx, userID, creds, id)
		switch {
		case err == nil:
		case errors.Is(err, gmail.ErrNotFound):
			// Deleted between listing and fetching
			result.Skipped++
			continue
		case errors.Is(err, ErrReauthRequired), errors.Is(err, ErrRateLimited):
			return result, s.gatewayFailure(ctx, userID, err)
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			result.Failed++
			metrics.MessageFailures.Inc()
			log.Error().Err(err).Str("user_id", userID).Str("message_id", id).Msg("failed to process message")
			continue
		}

		if outcome == emaildomain.AlreadyExists {
			result.AlreadyStored++
			continue
		}
		result.Inserted++
		if deal != nil {
			deals = append(deals, deal)
		}
	}
	result.Deals = len(deals)
	result.HistoryID = link.HistoryID

	if result.Failed > 0 {
		log.Warn().
			Str("user_id", userID).
			Int("failed", result.Failed).
			Int("inserted", result.Inserted).
			Msg("sync batch incomplete, cursor not advanced")
		s.notify(ctx, userID, deals)
		return result, fmt.Errorf("%w: %d of %d messages failed", ErrBatchIncomplete, result.Failed, result.Listed)
	}

	if err := s.accounts.UpdateSyncState(ctx, userID, maildomain.SyncState{
		HistoryID: historyID,
		SyncedAt:  s.now(),
		FullSync:  result.Mode == SyncModeFull,
	}); err != nil {
		return result, fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	result.HistoryID = historyID
	result.HistoryAdvanced = historyID != link.HistoryID

	log.Info().
		Str("user_id", userID).
		Str("mode", string(result.Mode)).
		Int("listed", result.Listed).
		Int("inserted", result.Inserted).
		Int("deals", result.Deals).
		Str("history_id", historyID).
		Msg("sync completed")

	s.notify(ctx, userID, deals)
	return result, nil
}

// list picks delta or full listing. A delta against a cursor the provider no
// longer knows falls back to the full listing.
func (s *syncService) list(ctx context.Context, link *maildomain.Link, creds gmail.Credentials, result *SyncResult) ([]string, string, error) {
	if !s.needsFullSync(link) {
		result.Mode = SyncModeDelta
		ids, historyID, err := s.gateway.ListNewMessages(ctx, creds, link.HistoryID)
		if !errors.Is(err, gmail.ErrHistoryExpired) {
			return ids, historyID, err
		}
		log.Warn().Str("user_id", link.UserID).Str("history_id", link.HistoryID).Msg("history cursor expired, running full listing")
	}

	result.Mode = SyncModeFull
	return s.gateway.ListRecentMessages(ctx, creds, s.opts.FullSyncMaxMessages)
}

func (s *syncService) needsFullSync(link *maildomain.Link) bool {
	if link.HistoryID == "" {
		return true
	}
	if s.opts.FullResyncInterval <= 0 {
		return false
	}
	return link.LastFullSyncAt == nil || s.now().Sub(*link.LastFullSyncAt) >= s.opts.FullResyncInterval
}

func (s *syncService) processMessage(ctx context.Context, userID string, creds gmail.Credentials, id string) (outcome emaildomain.InsertOutcome, deal *dealdomain.Deal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	msg, err := s.gateway.GetMessage(ctx, creds, id)
	if err != nil {
		return 0, nil, err
	}

	res := s.classifier.Classify(ctx, msg)
	row := &emaildomain.MessageClassification{
		UserID:     userID,
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		SenderName: msg.FromName,
		Snippet:    msg.Snippet,
		Category:   res.Category,
		Tags:       res.Tags,
		Confidence: res.Confidence,
		Rationale:  res.Rationale,
		Stage:      res.Stage,
		IsStarred:  msg.HasLabel("STARRED"),
	}
	if !msg.ReceivedAt.IsZero() {
		received := msg.ReceivedAt.UTC()
		row.ReceivedAt = &received
	}

	if res.Category == emaildomain.CategoryDealFlow && s.extractor != nil {
		deal = s.extractor.Extract(msg)
	}

	outcome, err = s.classifications.InsertIfAbsent(ctx, row, deal)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to store classification: %w", err)
	}
	if outcome != emaildomain.Inserted {
		deal = nil
	}
	return outcome, deal, nil
}

func (s *syncService) gatewayFailure(ctx context.Context, userID string, err error) error {
	if errors.Is(err, ErrReauthRequired) {
		if markErr := s.accounts.MarkReauthRequired(ctx, userID); markErr != nil {
			log.Error().Err(markErr).Str("user_id", userID).Msg("failed to mark mailbox for reauthorization")
		}
		log.Warn().Str("user_id", userID).Msg("mailbox grant revoked, reauthorization required")
	}
	return err
}

func (s *syncService) recordRun(ctx context.Context, userID string, start time.Time, outcome string, result *SyncResult, syncErr error) {
	if s.runs == nil || errors.Is(syncErr, ErrAccountNotLinked) {
		return
	}
	run := &emaildomain.SyncRun{
		UserID:     userID,
		Mode:       string(result.Mode),
		Outcome:    outcome,
		Listed:     result.Listed,
		Inserted:   result.Inserted,
		Failed:     result.Failed,
		Deals:      result.Deals,
		HistoryID:  result.HistoryID,
		StartedAt:  start,
		FinishedAt: s.now(),
	}
	if run.Mode == "" {
		run.Mode = "none"
	}
	if syncErr != nil {
		run.Error = syncErr.Error()
	}
	// The run context may be cancelled already
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Record(recordCtx, run); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to record sync run")
	}
}

func (s *syncService) notify(ctx context.Context, userID string, deals []*dealdomain.Deal) {
	if s.notifier == nil || len(deals) == 0 {
		return
	}
	s.notifier.NotifyDeals(ctx, userID, deals)
}
