package dispatch

import (
	"context"
	"fmt"
	"strings"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

// EmailDispatcher hands a drafted email to the mail client through a mailto URI.
type EmailDispatcher struct {
	surface ports.HandoffSurface
}

var _ ports.Dispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher wires the hand-off surface.
func NewEmailDispatcher(surface ports.HandoffSurface) *EmailDispatcher {
	return &EmailDispatcher{surface: surface}
}

// Channel implements ports.Dispatcher.
func (d *EmailDispatcher) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Attempt requires a draft; drafting is done once per run by the caller.
func (d *EmailDispatcher) Attempt(ctx context.Context, delivery domain.Delivery) (domain.Outcome, string, error) {
	if d.surface == nil {
		return "", "", fmt.Errorf("email dispatcher has no hand-off surface")
	}
	if delivery.Draft == nil {
		return "", "", fmt.Errorf("email delivery has no draft")
	}
	uri := MailtoLink(delivery.Recipient, *delivery.Draft)
	return d.surface.Attempt(ctx, uri), uri, nil
}

// MailtoLink builds the composed-email URI. An empty recipient yields a
// recipient-less link.
func MailtoLink(recipient string, draft domain.EmailDraft) string {
	return fmt.Sprintf("mailto:%s?subject=%s&body=%s",
		strings.TrimSpace(recipient),
		encodeComponent(draft.Subject),
		encodeComponent(draft.Body),
	)
}
