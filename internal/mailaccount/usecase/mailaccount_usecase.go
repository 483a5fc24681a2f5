package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/gmail"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var ErrInvalidState = errors.New("oauth state does not match the signed-in user")

// TokenExchanger is satisfied by *oauth2.Config
type TokenExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Mailbox is the part of the gateway needed to link and watch a mailbox
type Mailbox interface {
	Profile(ctx context.Context, creds gmail.Credentials) (string, string, error)
	Watch(ctx context.Context, creds gmail.Credentials, topicName string) (*gmail.WatchResult, error)
	Stop(ctx context.Context, creds gmail.Credentials) error
}

type mailAccountUsecase struct {
	links   repository.LinkRepository
	oauth   TokenExchanger
	mailbox Mailbox
	topic   string
}

func NewMailAccountUsecase(links repository.LinkRepository, oauth TokenExchanger, mailbox Mailbox, pubsubTopic string) MailAccountUsecase {
	return &mailAccountUsecase{
		links:   links,
		oauth:   oauth,
		mailbox: mailbox,
		topic:   pubsubTopic,
	}
}

func (u *mailAccountUsecase) AuthURL(userID string) string {
	return u.oauth.AuthCodeURL(userID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (u *mailAccountUsecase) Connect(ctx context.Context, userID, code, state string) (*domain.Link, error) {
	if state != "" && state != userID {
		return nil, ErrInvalidState
	}

	token, err := u.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	creds := gmail.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	email, _, err := u.mailbox.Profile(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox profile: %w", err)
	}

	// A different mailbox starts from a fresh cursor
	existing, err := u.links.FindByUserID(ctx, userID)
	switch {
	case err == nil && existing.EmailAddress != email:
		if err := u.links.Delete(ctx, userID); err != nil {
			return nil, err
		}
	case err != nil && !errors.Is(err, repository.ErrLinkNotFound):
		return nil, err
	}

	link := &domain.Link{
		UserID:       userID,
		EmailAddress: email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		link.TokenExpiry = &expiry
	}
	if err := u.links.Upsert(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to save mail account: %w", err)
	}

	log.Info().Str("user_id", userID).Str("email", email).Msg("mailbox linked")

	if err := u.RenewWatch(ctx, userID, 0); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to start gmail watch")
	}
	return link, nil
}

func (u *mailAccountUsecase) Get(ctx context.Context, userID string) (*domain.Link, error) {
	return u.links.FindByUserID(ctx, userID)
}

func (u *mailAccountUsecase) Disconnect(ctx context.Context, userID string) error {
	link, err := u.links.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if u.topic != "" && link.Status == domain.StatusActive {
		if err := u.mailbox.Stop(ctx, u.Credentials(link)); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to stop gmail watch")
		}
	}
	return u.links.Delete(ctx, userID)
}

func (u *mailAccountUsecase) ListActive(ctx context.Context) ([]*domain.Link, error) {
	return u.links.ListActive(ctx)
}

func (u *mailAccountUsecase) Credentials(link *domain.Link) gmail.Credentials {
	creds := gmail.Credentials{
		AccessToken:  link.AccessToken,
		RefreshToken: link.RefreshToken,
	}
	if link.TokenExpiry != nil {
		creds.Expiry = *link.TokenExpiry
	}

	userID := link.UserID
	creds.OnRefresh = func(token *oauth2.Token) error {
		// The request context may already be gone when the refresh lands
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return u.links.UpdateTokens(ctx, userID, token.AccessToken, token.RefreshToken, token.Expiry)
	}
	return creds
}

func (u *mailAccountUsecase) MarkReauthRequired(ctx context.Context, userID string) error {
	return u.links.MarkReauthRequired(ctx, userID)
}

func (u *mailAccountUsecase) UpdateSyncState(ctx context.Context, userID string, state domain.SyncState) error {
	return u.links.UpdateSyncState(ctx, userID, state)
}

func (u *mailAccountUsecase) RenewWatch(ctx context.Context, userID string, renewBefore time.Duration) error {
	if u.topic == "" {
		return nil
	}

	link, err := u.links.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if link.Status != domain.StatusActive {
		return nil
	}
	if link.WatchExpiresAt != nil && time.Until(*link.WatchExpiresAt) > renewBefore {
		return nil
	}

	result, err := u.mailbox.Watch(ctx, u.Credentials(link), u.topic)
	if err != nil {
		if errors.Is(err, gmail.ErrReauthRequired) {
			_ = u.links.MarkReauthRequired(ctx, userID)
		}
		return err
	}
	return u.links.UpdateWatchExpiry(ctx, userID, result.Expiration)
}
