package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Adapter is one chat platform connection.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// Address is the engine-wide channel id of the message's origin.
func (m *InboundMessage) Address() string {
	return JoinChannel(m.Platform, m.ChannelID)
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// AdapterStatus describes an adapter's connection.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// JoinChannel builds an engine channel id such as "slack:C024BE91L".
func JoinChannel(platform, channel string) string {
	return platform + ":" + channel
}

// SplitChannel parses an engine channel id into platform and native channel.
func SplitChannel(id string) (platform, channel string, err error) {
	platform, channel, ok := strings.Cut(id, ":")
	if !ok || platform == "" || channel == "" {
		return "", "", fmt.Errorf("channel id %q is not platform:channel", id)
	}
	return platform, channel, nil
}
