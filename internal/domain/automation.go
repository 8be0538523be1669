package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel names a delivery mechanism for a finished report.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelChat  Channel = "CHAT"
)

// DispatchOrder is the fixed fan-out order of an automated run: chat needs no
// extra backend round-trip, email waits for a draft.
var DispatchOrder = []Channel{ChannelChat, ChannelEmail}

// ParseChannel accepts channel names case-insensitively, including the legacy
// WHATSAPP spelling of the chat channel.
func ParseChannel(value string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(ChannelEmail):
		return ChannelEmail, nil
	case string(ChannelChat), "WHATSAPP":
		return ChannelChat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, value)
	}
}

// UnmarshalJSON keeps unknown values so that NormalizeChannels can drop them
// instead of failing the whole record.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if parsed, err := ParseChannel(raw); err == nil {
		*c = parsed
		return nil
	}
	*c = Channel(raw)
	return nil
}

// Known reports whether c is one of the supported channels.
func (c Channel) Known() bool {
	return c == ChannelEmail || c == ChannelChat
}

// NormalizeChannels drops unknown values and duplicates and returns the set in
// dispatch order. The result is never nil.
func NormalizeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	for _, ch := range channels {
		if ch.Known() {
			seen[ch] = struct{}{}
		}
	}
	ordered := make([]Channel, 0, len(seen))
	for _, ch := range DispatchOrder {
		if _, ok := seen[ch]; ok {
			ordered = append(ordered, ch)
		}
	}
	return ordered
}

// AutomationConfig is the persisted automation schedule and channel settings.
type AutomationConfig struct {
	Topic          string     `json:"topic"`
	ScheduledTime  string     `json:"scheduledTime"`
	AutoRun        bool       `json:"autoRun"`
	ActiveChannels []Channel  `json:"activeChannels"`
	EmailAddress   string     `json:"emailAddress,omitempty"`
	ChatRecipient  string     `json:"chatRecipient,omitempty"`
	LastRunAt      *time.Time `json:"lastRunAt"`
}

// HasChannel reports whether ch is active.
func (c AutomationConfig) HasChannel(ch Channel) bool {
	for _, active := range c.ActiveChannels {
		if active == ch {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c AutomationConfig) Clone() AutomationConfig {
	out := c
	if c.ActiveChannels != nil {
		out.ActiveChannels = append([]Channel{}, c.ActiveChannels...)
	}
	if c.LastRunAt != nil {
		last := *c.LastRunAt
		out.LastRunAt = &last
	}
	return out
}

// WithLegacyDefaults fills fields that older records did not carry. Records
// written before channels were selectable only delivered by email.
func (c AutomationConfig) WithLegacyDefaults() AutomationConfig {
	out := c.Clone()
	if out.ActiveChannels == nil {
		out.ActiveChannels = []Channel{ChannelEmail}
	}
	out.ActiveChannels = NormalizeChannels(out.ActiveChannels)
	return out
}

// Validate checks the invariants a record must satisfy before it is saved.
func (c AutomationConfig) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	if c.ScheduledTime == "" {
		if c.AutoRun {
			return fmt.Errorf("%w: scheduled time is required when auto run is enabled", ErrInvalidConfig)
		}
		return nil
	}
	if _, _, err := ParseScheduledTime(c.ScheduledTime); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ParseScheduledTime splits an "HH:MM" 24-hour value.
func ParseScheduledTime(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q must use HH:MM format", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q: hour must be 0-23", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q: minute must be 0-59", value)
	}
	return hour, minute, nil
}
