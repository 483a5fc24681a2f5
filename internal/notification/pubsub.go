package notification

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	maildomain "dealdesk-backend/internal/mailaccount/domain"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	taskdomain "dealdesk-backend/internal/task/domain"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on mailbox changes
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// PushEnvelope is the body of a Pub/Sub push request
type PushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type LinkFinder interface {
	FindByEmail(ctx context.Context, email string) (*maildomain.Link, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType taskdomain.JobType, userID string) (*taskdomain.JobState, bool, error)
}

// Dispatcher turns mailbox change notifications into ordinary sync jobs.
// The notification's history id is never used as a cursor.
type Dispatcher struct {
	links LinkFinder
	jobs  Enqueuer

	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewDispatcher(links LinkFinder, jobs Enqueuer) *Dispatcher {
	return &Dispatcher{
		links:         links,
		jobs:          jobs,
		lastHistoryID: make(map[string]uint64),
	}
}

// Dispatch enqueues a sync for the mailbox in n. Unknown and inactive
// mailboxes are ignored. Errors mean the notification should be redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, n GmailNotification) error {
	email := strings.ToLower(strings.TrimSpace(n.EmailAddress))
	if email == "" {
		return nil
	}

	link, err := d.links.FindByEmail(ctx, email)
	if errors.Is(err, mailrepo.ErrLinkNotFound) {
		log.Debug().Str("email", email).Msg("notification for unknown mailbox")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up mailbox: %w", err)
	}
	if link.Status != maildomain.StatusActive {
		return nil
	}

	if !d.advance(link.UserID, n.HistoryID) {
		log.Debug().Str("user_id", link.UserID).Uint64("history_id", n.HistoryID).Msg("skipping stale notification")
		return nil
	}

	state, queued, err := d.jobs.Enqueue(ctx, taskdomain.JobSyncUser, link.UserID)
	if err != nil {
		d.forget(link.UserID, n.HistoryID)
		return fmt.Errorf("failed to enqueue sync: %w", err)
	}
	log.Info().
		Str("user_id", link.UserID).
		Str("job_id", state.ID).
		Bool("queued", queued).
		Uint64("history_id", n.HistoryID).
		Msg("mailbox change notification")
	return nil
}

// advance records historyID and reports whether it is newer than the last
// one seen for userID on this instance.
func (d *Dispatcher) advance(userID string, historyID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if historyID == 0 {
		return true
	}
	if last, ok := d.lastHistoryID[userID]; ok && historyID <= last {
		return false
	}
	d.lastHistoryID[userID] = historyID
	return true
}

func (d *Dispatcher) forget(userID string, historyID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastHistoryID[userID] == historyID {
		delete(d.lastHistoryID, userID)
	}
}

// PushHandler receives Pub/Sub push deliveries.
// POST /api/pubsub/push?token=...
func PushHandler(dispatcher *Dispatcher, verificationToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verificationToken != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(verificationToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid push token"})
			return
		}

		var envelope PushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
			return
		}

		var n GmailNotification
		if err := json.Unmarshal(envelope.Message.Data, &n); err != nil {
			// Redelivery cannot fix a bad payload, so acknowledge it
			log.Warn().Err(err).Str("message_id", envelope.Message.MessageID).Msg("undecodable gmail notification")
			c.Status(http.StatusNoContent)
			return
		}

		if err := dispatcher.Dispatch(c.Request.Context(), n); err != nil {
			log.Error().Err(err).Str("email", n.EmailAddress).Msg("failed to dispatch notification")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Subscriber pulls notifications from a subscription instead of receiving
// pushes. Used where the API is not reachable from Pub/Sub.
type Subscriber struct {
	client     *pubsub.Client
	dispatcher *Dispatcher
	topicName  string
	subName    string
}

func NewSubscriber(ctx context.Context, projectID, topicName, credentialsFile string, dispatcher *Dispatcher) (*Subscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Topics are configured as projects/<id>/topics/<name>
	short := topicName
	if i := strings.LastIndex(short, "/"); i >= 0 {
		short = short[i+1:]
	}

	return &Subscriber{
		client:     client,
		dispatcher: dispatcher,
		topicName:  short,
		subName:    short + "-sub",
	}, nil
}

// Run receives until ctx is cancelled. Messages that fail to dispatch are
// nacked for redelivery.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", s.subName, err)
	}

	if !exists {
		topic := s.client.Topic(s.topicName)
		sub, err = s.client.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 20 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create subscription %s: %w", s.subName, err)
		}
		log.Info().Str("subscription", s.subName).Msg("created pubsub subscription")
	}

	log.Info().Str("subscription", s.subName).Msg("listening for gmail notifications")
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var n GmailNotification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("undecodable gmail notification")
			msg.Ack()
			return
		}
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			log.Error().Err(err).Str("email", n.EmailAddress).Msg("failed to dispatch notification")
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
