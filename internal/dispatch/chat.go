package dispatch

import (
	"context"
	"fmt"
	"strings"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

const (
	// DefaultChatProvider is the click-to-chat host used when none is configured.
	DefaultChatProvider = "wa.me"

	chatBanner = "*EnergyScout Update - Sources:*"
)

// ChatDispatcher hands the report's sources to a click-to-chat link.
type ChatDispatcher struct {
	provider string
	surface  ports.HandoffSurface
}

var _ ports.Dispatcher = (*ChatDispatcher)(nil)

// NewChatDispatcher wires the chat provider host and the hand-off surface.
func NewChatDispatcher(provider string, surface ports.HandoffSurface) *ChatDispatcher {
	provider = strings.Trim(strings.TrimSpace(provider), "/")
	provider = strings.TrimPrefix(strings.TrimPrefix(provider, "https://"), "http://")
	if provider == "" {
		provider = DefaultChatProvider
	}
	return &ChatDispatcher{provider: provider, surface: surface}
}

// Channel implements ports.Dispatcher.
func (d *ChatDispatcher) Channel() domain.Channel {
	return domain.ChannelChat
}

// Attempt composes the chat link and asks the surface to open it.
func (d *ChatDispatcher) Attempt(ctx context.Context, delivery domain.Delivery) (domain.Outcome, string, error) {
	if d.surface == nil {
		return "", "", fmt.Errorf("chat dispatcher has no hand-off surface")
	}
	uri := d.Link(delivery.Recipient, ChatMessage(delivery.Report.Sources))
	return d.surface.Attempt(ctx, uri), uri, nil
}

// Link builds the composed-chat URL for recipient and message.
func (d *ChatDispatcher) Link(recipient, message string) string {
	return fmt.Sprintf("https://%s/%s?text=%s", d.provider, DigitsOnly(recipient), encodeComponent(message))
}

// ChatMessage renders the source list under the fixed banner.
func ChatMessage(sources []domain.Source) string {
	lines := make([]string, 0, len(sources))
	for _, src := range sources {
		lines = append(lines, fmt.Sprintf("• %s: %s", src.Title, src.URL))
	}
	return chatBanner + "\n\n" + strings.Join(lines, "\n")
}

// DigitsOnly strips every non-digit character from a phone number.
func DigitsOnly(value string) string {
	var sb strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
