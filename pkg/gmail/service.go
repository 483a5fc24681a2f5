package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	me           = "me"
	labelInbox   = "INBOX"
	labelStarred = "STARRED"
	maxPageSize  = 500
)

// Scopes requested when a user links a mailbox.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// TokenUpdateFunc is called with the new token whenever the access token is
// refreshed so it can be persisted.
type TokenUpdateFunc func(token *oauth2.Token) error

// Credentials is the per-user token material the gateway acts with.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	OnRefresh    TokenUpdateFunc
}

// Service is the gateway to the Gmail API. It holds no per-user state.
type Service struct {
	clientID     string
	clientSecret string
	opts         []option.ClientOption
}

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  string
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current != t.AccessToken {
		s.current = t.AccessToken
		if err := s.callback(t); err != nil {
			log.Error().Err(err).Msg("failed to persist refreshed gmail token")
		}
	}
	return t, nil
}

// NewService creates the gateway. Extra client options are appended to the
// per-user ones, which lets tests point the client at a local server.
func NewService(clientID, clientSecret string, opts ...option.ClientOption) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		opts:         opts,
	}
}

// OAuthConfig returns the OAuth2 config used for the account link handshake.
func (s *Service) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
	}
}

func (s *Service) client(ctx context.Context, creds Credentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	// Unknown expiry with a refresh token: refresh on first use
	if token.Expiry.IsZero() && creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	source := &notifyTokenSource{
		src:      s.OAuthConfig("").TokenSource(ctx, token),
		current:  creds.AccessToken,
		callback: creds.OnRefresh,
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, source))}, s.opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// Profile returns the mailbox address and its current history id.
func (s *Service) Profile(ctx context.Context, creds Credentials) (email string, historyID string, err error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return "", "", err
	}

	profile, err := srv.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", "", wrapError("get profile", err)
	}
	return profile.EmailAddress, formatHistoryID(profile.HistoryId), nil
}

// ListNewMessages returns inbox messages added since historyID together
// with the newest history id the provider reported. ErrHistoryExpired is
// returned when the id is outside the provider's history window.
func (s *Service) ListNewMessages(ctx context.Context, creds Credentials, historyID string) ([]string, string, error) {
	start, err := strconv.ParseUint(historyID, 10, 64)
	if err != nil {
		// A cursor we cannot hand back is as good as an expired one
		return nil, "", fmt.Errorf("list history: %w: %v", ErrHistoryExpired, err)
	}

	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, "", err
	}

	var (
		ids     []string
		seen    = make(map[string]struct{})
		newest  = historyID
		pageTok string
	)
	for {
		call := srv.Users.History.List(me).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			LabelId(labelInbox).
			MaxResults(maxPageSize).
			Context(ctx)
		if pageTok != "" {
			call = call.PageToken(pageTok)
		}

		resp, err := call.Do()
		if err != nil {
			wrapped := wrapError("list history", err)
			if isNotFound(wrapped) {
				return nil, "", fmt.Errorf("list history: %w: %v", ErrHistoryExpired, err)
			}
			return nil, "", wrapped
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, ok := seen[added.Message.Id]; ok {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId != 0 {
			newest = formatHistoryID(resp.HistoryId)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageTok = resp.NextPageToken
	}

	return ids, newest, nil
}

// ListRecentMessages lists up to max inbox messages, newest first. The
// history id is read before listing so nothing delivered during the listing
// is skipped by the next delta.
func (s *Service) ListRecentMessages(ctx context.Context, creds Credentials, max int) ([]string, string, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, "", err
	}

	profile, err := srv.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return nil, "", wrapError("get profile", err)
	}
	historyID := formatHistoryID(profile.HistoryId)

	var (
		ids     []string
		pageTok string
	)
	for len(ids) < max {
		pageSize := max - len(ids)
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		call := srv.Users.Messages.List(me).
			LabelIds(labelInbox).
			MaxResults(int64(pageSize)).
			Context(ctx)
		if pageTok != "" {
			call = call.PageToken(pageTok)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, "", wrapError("list messages", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageTok = resp.NextPageToken
	}

	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, historyID, nil
}

// GetMessage fetches a full message.
func (s *Service) GetMessage(ctx context.Context, creds Credentials, id string) (*Message, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapError("get message", err)
	}
	return convertMessage(msg), nil
}

// SendReply sends a reply in the original thread and returns the id of the
// sent message.
func (s *Service) SendReply(ctx context.Context, creds Credentials, reply Reply) (string, error) {
	raw, err := reply.Build(time.Now())
	if err != nil {
		return "", err
	}

	srv, err := s.client(ctx, creds)
	if err != nil {
		return "", err
	}

	sent, err := srv.Users.Messages.Send(me, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", wrapError("send reply", err)
	}
	return sent.Id, nil
}

// SetStarred adds or removes the STARRED label.
func (s *Service) SetStarred(ctx context.Context, creds Credentials, id string, starred bool) error {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{}
	if starred {
		req.AddLabelIds = []string{labelStarred}
	} else {
		req.RemoveLabelIds = []string{labelStarred}
	}

	if _, err := srv.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return wrapError("modify labels", err)
	}
	return nil
}

// WatchResult describes an active push subscription.
type WatchResult struct {
	HistoryID  string
	Expiration time.Time
}

// Watch sets up push notifications for the inbox on the given topic.
func (s *Service) Watch(ctx context.Context, creds Credentials, topicName string) (*WatchResult, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	// Only one push client per user is allowed, clear any previous one
	_ = srv.Users.Stop(me).Context(ctx).Do()

	resp, err := srv.Users.Watch(me, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{labelInbox},
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapError("watch mailbox", err)
	}

	log.Debug().Str("topic", topicName).Int64("expiration", resp.Expiration).Msg("gmail watch started")
	return &WatchResult{
		HistoryID:  formatHistoryID(resp.HistoryId),
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// Stop cancels push notifications for the mailbox.
func (s *Service) Stop(ctx context.Context, creds Credentials) error {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return err
	}
	if err := srv.Users.Stop(me).Context(ctx).Do(); err != nil {
		return wrapError("stop watch", err)
	}
	return nil
}

func formatHistoryID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
