package notification

import (
	"context"
	"fmt"
	"time"

	authdomain "dealdesk-backend/internal/auth/domain"
	dealdomain "dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/pkg/fcm"

	"github.com/rs/zerolog/log"
)

type DeviceTokens interface {
	GetTokensByUserID(ctx context.Context, userID string) ([]authdomain.FCMToken, error)
	DeleteToken(ctx context.Context, token string) error
}

// Sender is satisfied by *fcm.Client
type Sender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// DealPusher notifies a user's devices about deals found by a sync
type DealPusher struct {
	tokens  DeviceTokens
	sender  Sender
	timeout time.Duration
}

func NewDealPusher(tokens DeviceTokens, sender Sender) *DealPusher {
	return &DealPusher{
		tokens:  tokens,
		sender:  sender,
		timeout: 10 * time.Second,
	}
}

func (p *DealPusher) NotifyDeals(ctx context.Context, userID string, deals []*dealdomain.Deal) {
	if len(deals) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	devices, err := p.tokens.GetTokensByUserID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to load device tokens")
		return
	}
	if len(devices) == 0 {
		return
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}

	failed, err := p.sender.SendToDevices(ctx, tokens, dealNotification(deals))
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to send deal notification")
		return
	}
	for _, token := range failed {
		if err := p.tokens.DeleteToken(ctx, token); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to drop rejected device token")
		}
	}
}

func dealNotification(deals []*dealdomain.Deal) fcm.NotificationData {
	best := deals[0]
	for _, d := range deals[1:] {
		if d.Score > best.Score {
			best = d
		}
	}

	name := best.Company
	if name == "" {
		name = best.FounderName
	}
	if name == "" {
		name = best.FounderEmail
	}

	title := "New deal"
	if len(deals) > 1 {
		title = fmt.Sprintf("%d new deals", len(deals))
	}
	return fcm.NotificationData{
		Title: title,
		Body:  fmt.Sprintf("%s (score %d)", name, best.Score),
		Data: map[string]string{
			"type":    "deal_flow",
			"deal_id": best.ID,
			"count":   fmt.Sprintf("%d", len(deals)),
		},
		Link: "/deals/" + best.ID,
	}
}
