package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/groupmind/internal/bot"
)

const (
	DefaultPollTimeout    = 30 * time.Second
	DefaultMaxConcurrency = 64
	retryDelay            = time.Second
)

// Handler consumes inbound events. Implemented by bot.Bot.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message)
	HandleReaction(ctx context.Context, r bot.Reaction)
	HandleMembership(ctx context.Context, m bot.Membership)
}

// Poller long-polls getUpdates and dispatches every update on its own
// goroutine, bounded by MaxConcurrency. Updates are acknowledged as soon as
// they are fetched; there is no redelivery.
type Poller struct {
	client         *Client
	handler        Handler
	self           Identity
	pollTimeout    time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// PollerOptions configures a Poller. Zero values select the defaults.
type PollerOptions struct {
	PollTimeout    time.Duration
	MaxConcurrency int
	Logger         *slog.Logger
}

// NewPoller creates a poller for the bot account self.
func NewPoller(client *Client, handler Handler, self Identity, opts PollerOptions) *Poller {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		client:         client,
		handler:        handler,
		self:           self,
		pollTimeout:    opts.PollTimeout,
		maxConcurrency: opts.MaxConcurrency,
		logger:         opts.Logger,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)

	var offset int64
	for {
		if ctx.Err() != nil {
			break
		}
		updates, err := p.client.getUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if isPollTimeout(err) {
				p.logger.Debug("telegram poll timeout", "error", err)
			} else {
				p.logger.Warn("telegram getUpdates failed", "error", err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			g.Go(func() error {
				p.dispatch(gctx, u)
				return nil
			})
		}
	}

	p.logger.Info("telegram poller stopping")
	return g.Wait()
}

func (p *Poller) dispatch(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		if r, ok := p.toReaction(u.CallbackQuery); ok {
			p.handler.HandleReaction(ctx, r)
		}
	case u.MyChatMember != nil:
		if m, ok := p.toPromotion(u.MyChatMember); ok {
			p.handler.HandleMembership(ctx, m)
		}
	case u.Message != nil:
		for _, m := range p.toJoins(u.Message) {
			p.handler.HandleMembership(ctx, m)
		}
		if msg, ok := p.toMessage(u.Message); ok {
			p.handler.HandleMessage(ctx, msg)
		}
	}
}

func chatKind(c *chat) (bot.ChatKind, bool) {
	switch c.Type {
	case "private":
		return bot.ChatPrivate, true
	case "group", "supergroup":
		return bot.ChatGroup, true
	}
	return "", false
}

func (p *Poller) toMessage(m *message) (bot.Message, bool) {
	if m.Chat == nil || m.From == nil || m.From.IsBot {
		return bot.Message{}, false
	}
	kind, ok := chatKind(m.Chat)
	if !ok {
		return bot.Message{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return bot.Message{}, false
	}

	msg := bot.Message{
		ChatID:     m.Chat.ID,
		ChatKind:   kind,
		ChatTitle:  m.Chat.Title,
		SenderID:   m.From.ID,
		SenderName: displayName(m.From),
		Text:       text,
		MessageID:  m.MessageID,
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &bot.ReplyRef{
			MessageID: m.ReplyTo.MessageID,
			FromBot:   m.ReplyTo.From != nil && m.ReplyTo.From.ID == p.self.ID,
		}
	}
	return msg, true
}

func (p *Poller) toReaction(q *callbackQuery) (bot.Reaction, bool) {
	msgID, positive, ok := ParseFeedbackData(q.Data)
	if !ok || q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return bot.Reaction{}, false
	}
	return bot.Reaction{
		ChatID:      q.Message.Chat.ID,
		UserID:      q.From.ID,
		AnswerMsgID: msgID,
		Positive:    positive,
		CallbackID:  q.ID,
	}, true
}

func (p *Poller) toPromotion(u *chatMemberUpdated) (bot.Membership, bool) {
	if u.Chat == nil || u.NewChatMember == nil || u.NewChatMember.User == nil {
		return bot.Membership{}, false
	}
	if u.NewChatMember.User.ID != p.self.ID || u.NewChatMember.Status != "administrator" {
		return bot.Membership{}, false
	}
	if _, ok := chatKind(u.Chat); !ok {
		return bot.Membership{}, false
	}
	return bot.Membership{ChatID: u.Chat.ID, ChatTitle: u.Chat.Title, Kind: bot.BotPromoted}, true
}

func (p *Poller) toJoins(m *message) []bot.Membership {
	if m.Chat == nil || len(m.NewChatMembers) == 0 {
		return nil
	}
	var out []bot.Membership
	for i := range m.NewChatMembers {
		u := &m.NewChatMembers[i]
		if u.IsBot {
			continue
		}
		out = append(out, bot.Membership{
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			Kind:      bot.MemberJoined,
			Name:      displayName(u),
		})
	}
	return out
}

func displayName(u *user) string {
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	case u.Username != "":
		return "@" + u.Username
	}
	return ""
}

func isPollTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
