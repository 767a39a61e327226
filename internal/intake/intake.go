package intake

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/gateway"
	"github.com/nidhogg/nuka-mind/internal/guidance"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

// handleTimeout bounds the work done for one inbound chat message.
const handleTimeout = 30 * time.Second

// ErrEmptyDescription rejects a task with no text.
var ErrEmptyDescription = errors.New("task description is empty")

// replyPattern matches "<decision> <reference> [comment]".
var replyPattern = regexp.MustCompile(
	`(?is)^\s*(approve|decline|needs-reflection|human-required)\s+` +
		`([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\b\s*(.*?)\s*$`)

// Store is the persistence ingestion writes to.
type Store interface {
	AddTask(ctx context.Context, task *thought.Task) error
	AddThought(ctx context.Context, th *thought.Thought) error
}

// Resolver applies Wise Authority replies.
type Resolver interface {
	Resolve(ctx context.Context, rep guidance.Reply) (*guidance.Resolution, error)
}

// Sink answers on the originating channel.
type Sink interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// Notifier is told when new work exists.
type Notifier interface {
	Notify(ctx context.Context, taskID string) error
}

// Request describes a task to ingest.
type Request struct {
	Description string         `json:"description"`
	Priority    int            `json:"priority"`
	ChannelID   string         `json:"channel_id,omitempty"`
	AuthorID    string         `json:"author_id,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Intake turns inbound messages into tasks or guidance.
type Intake struct {
	store    Store
	resolver Resolver
	sink     Sink
	notifier Notifier
	logger   *zap.Logger
}

func New(store Store, resolver Resolver, sink Sink, notifier Notifier, logger *zap.Logger) *Intake {
	return &Intake{store: store, resolver: resolver, sink: sink, notifier: notifier, logger: logger}
}

// Handle routes one inbound chat message. Signature matches gateway.MessageHandler.
func (in *Intake) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	in.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName))

	if rep, ok := ParseReply(msg.Content); ok {
		rep.WAID = gateway.JoinChannel(msg.Platform, msg.UserID)
		in.handleReply(ctx, msg, rep)
		return
	}

	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	task, _, err := in.Ingest(ctx, Request{
		Description: msg.Content,
		ChannelID:   msg.Address(),
		AuthorID:    msg.UserID,
		Platform:    msg.Platform,
		Context:     map[string]any{"author_name": msg.UserName},
	})
	if err != nil {
		in.logger.Error("ingest message failed", zap.Error(err))
		in.reply(ctx, msg, "Sorry, I could not take that on right now.")
		return
	}
	in.logger.Debug("message ingested", zap.String("task_id", task.ID))
}

func (in *Intake) handleReply(ctx context.Context, msg *gateway.InboundMessage, rep guidance.Reply) {
	if in.resolver == nil {
		in.reply(ctx, msg, "Guidance replies are not accepted here.")
		return
	}
	res, err := in.resolver.Resolve(ctx, rep)
	switch {
	case errors.Is(err, thought.ErrNotFound):
		in.reply(ctx, msg, fmt.Sprintf("No deferral with reference %s.", rep.MessageID))
	case errors.Is(err, guidance.ErrAlreadyResolved):
		in.reply(ctx, msg, fmt.Sprintf("Deferral %s was already resolved.", rep.MessageID))
	case err != nil:
		in.logger.Error("resolve guidance failed", zap.String("message_id", rep.MessageID), zap.Error(err))
		in.reply(ctx, msg, "Could not record that guidance.")
	default:
		in.reply(ctx, msg, fmt.Sprintf("Guidance %q recorded for %s.", res.Decision, rep.MessageID))
	}
}

func (in *Intake) reply(ctx context.Context, msg *gateway.InboundMessage, text string) {
	if in.sink == nil {
		return
	}
	if err := in.sink.SendMessage(ctx, msg.Address(), text); err != nil {
		in.logger.Warn("intake reply failed", zap.String("channel_id", msg.Address()), zap.Error(err))
	}
}

// Ingest creates a PENDING task with its seed thought and wakes the workers.
func (in *Intake) Ingest(ctx context.Context, req Request) (*thought.Task, *thought.Thought, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, nil, ErrEmptyDescription
	}
	tctx := maps.Clone(req.Context)
	if tctx == nil {
		tctx = map[string]any{}
	}
	if req.ChannelID != "" {
		tctx[thought.ContextChannelID] = req.ChannelID
	}
	if req.AuthorID != "" {
		tctx[thought.ContextAuthorID] = req.AuthorID
	}
	if req.Platform != "" {
		tctx[thought.ContextPlatform] = req.Platform
	}

	task := thought.NewTask(req.Description, req.Priority, tctx)
	if err := in.store.AddTask(ctx, task); err != nil {
		return nil, nil, fmt.Errorf("add task: %w", err)
	}
	seed := thought.NewSeedThought(task, req.Description)
	if err := in.store.AddThought(ctx, seed); err != nil {
		return nil, nil, fmt.Errorf("add seed thought: %w", err)
	}
	if in.notifier != nil {
		if err := in.notifier.Notify(ctx, task.ID); err != nil {
			in.logger.Warn("wake workers failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	in.logger.Info("task ingested", zap.String("task_id", task.ID), zap.String("thought_id", seed.ID))
	return task, seed, nil
}

// ParseReply recognizes a Wise Authority reply to a deferral.
func ParseReply(s string) (guidance.Reply, bool) {
	m := replyPattern.FindStringSubmatch(s)
	if m == nil {
		return guidance.Reply{}, false
	}
	return guidance.Reply{
		Decision:  strings.ToLower(m[1]),
		MessageID: strings.ToLower(m[2]),
		Comment:   m[3],
	}, true
}
