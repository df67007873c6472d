// Package bot is the conversation orchestrator. It routes each inbound
// event to the setup dialogue, the command handlers or the answer pipeline,
// and records what it replied.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/kalambet/groupmind/internal/cache"
	"github.com/kalambet/groupmind/internal/command"
	"github.com/kalambet/groupmind/internal/completion"
	"github.com/kalambet/groupmind/internal/composer"
	"github.com/kalambet/groupmind/internal/keylock"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/learning"
	"github.com/kalambet/groupmind/internal/setup"
	"github.com/kalambet/groupmind/internal/storage"
)

// Store defines the persistence operations the orchestrator needs directly.
// Implemented by storage.Store.
type Store interface {
	EnsureGroup(id int64, title string) (storage.Group, error)
	GetGroup(id int64) (storage.Group, error)
	SetPaused(id int64, paused bool) error
	SaveInteraction(i storage.Interaction) error
	GetInteractionByAnswer(groupID, answerMsgID int64) (storage.Interaction, error)
	SetInteractionFeedback(id string, feedback int) error
	GetInteractionStats(groupID int64) (storage.InteractionStats, error)
	learning.Enqueuer
}

// Completer produces a reply from the external service, falling back to a
// canned reply on failure. Implemented by completion.Guard.
type Completer interface {
	Complete(ctx context.Context, key string, req completion.Request) completion.Result
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Store     Store
	Knowledge *knowledge.Service
	Setup     *setup.Machine
	Cache     *cache.Arena
	Completer Completer
	Composer  *composer.Composer
	Sender    Sender
	Members   Members
	// Handle is the bot's username without the leading '@'.
	Handle string
	Logger *slog.Logger
}

// Bot handles inbound events. All methods are safe for concurrent use.
type Bot struct {
	store     Store
	knowledge *knowledge.Service
	setup     *setup.Machine
	cache     *cache.Arena
	completer Completer
	composer  *composer.Composer
	sender    Sender
	members   Members
	handle    string
	groups    *keylock.Map[int64]
	logger    *slog.Logger
}

func New(d Deps) *Bot {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Composer == nil {
		d.Composer = composer.New(0)
	}
	return &Bot{
		store:     d.Store,
		knowledge: d.Knowledge,
		setup:     d.Setup,
		cache:     d.Cache,
		completer: d.Completer,
		composer:  d.Composer,
		sender:    d.Sender,
		members:   d.Members,
		handle:    strings.TrimPrefix(d.Handle, "@"),
		groups:    keylock.New[int64](),
		logger:    d.Logger,
	}
}

// Handle is the bot's username.
func (b *Bot) Handle() string {
	return b.handle
}

// HandleMessage processes one inbound message. Errors are logged, never
// returned: the transport has nothing useful to do with them.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	defer b.recover("message", msg.ChatID)

	var err error
	if msg.ChatKind == ChatPrivate {
		err = b.handlePrivate(ctx, msg)
	} else {
		err = b.handleGroup(ctx, msg)
	}
	if err != nil {
		b.logger.Error("handling message failed", "chat_id", msg.ChatID, "user_id", msg.SenderID, "error", err)
	}
}

// HandleReaction applies a feedback button press.
func (b *Bot) HandleReaction(ctx context.Context, r Reaction) {
	defer b.recover("reaction", r.ChatID)

	if err := b.handleReaction(ctx, r); err != nil {
		b.logger.Error("handling reaction failed", "chat_id", r.ChatID, "user_id", r.UserID, "error", err)
	}
}

// HandleMembership reacts to the bot being promoted or a member joining.
func (b *Bot) HandleMembership(ctx context.Context, m Membership) {
	defer b.recover("membership", m.ChatID)

	if err := b.handleMembership(ctx, m); err != nil {
		b.logger.Error("handling membership failed", "chat_id", m.ChatID, "error", err)
	}
}

func (b *Bot) recover(kind string, chatID int64) {
	if r := recover(); r != nil {
		b.logger.Error("panic while handling event", "kind", kind, "chat_id", chatID, "panic", r, "stack", string(debug.Stack()))
	}
}

func (b *Bot) handlePrivate(ctx context.Context, msg Message) error {
	cmd, err := command.Parse(msg.Text, b.handle)
	switch {
	case err == nil:
		return b.privateCommand(ctx, msg, cmd)
	case errors.Is(err, command.ErrNotCommand):
		return b.advanceSetup(ctx, msg)
	default:
		return b.reply(ctx, msg, commandErrorText(err))
	}
}

func (b *Bot) advanceSetup(ctx context.Context, msg Message) error {
	sess, err := b.setup.Advance(ctx, msg.SenderID, msg.Text)
	var inputErr *setup.InputError
	switch {
	case errors.Is(err, setup.ErrNoSession):
		return b.reply(ctx, msg, textNoSession)
	case errors.As(err, &inputErr):
		return b.reply(ctx, msg, fmt.Sprintf("Sorry, %s.\n\n%s", inputErr.Hint, setup.Prompt(inputErr.Step)))
	case err != nil:
		return b.replyFailure(ctx, msg, textSaveFailed, err)
	}
	return b.reply(ctx, msg, setup.Prompt(sess.Step))
}

func (b *Bot) handleGroup(ctx context.Context, msg Message) error {
	group, err := b.store.EnsureGroup(msg.ChatID, msg.ChatTitle)
	if err != nil {
		return fmt.Errorf("ensuring group: %w", err)
	}

	cmd, err := command.Parse(msg.Text, b.handle)
	switch {
	case err == nil:
		return b.groupCommand(ctx, msg, group, cmd)
	case errors.Is(err, command.ErrUnknown):
		// Possibly meant for another bot in the group.
		b.logger.Debug("ignoring unknown command", "chat_id", msg.ChatID, "text", msg.Text)
		return nil
	case !errors.Is(err, command.ErrNotCommand):
		return b.reply(ctx, msg, commandErrorText(err))
	}

	if msg.ReplyTo != nil && msg.ReplyTo.FromBot {
		handled, err := b.maybeCorrection(ctx, msg)
		if handled || err != nil {
			return err
		}
	}

	if !group.SetupComplete || group.Paused {
		return nil
	}
	return b.answer(ctx, msg, group)
}

// maybeCorrection treats an admin's reply to one of the bot's answers as a
// corrected answer and queues it for learning.
func (b *Bot) maybeCorrection(ctx context.Context, msg Message) (bool, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return false, nil
	}
	in, err := b.store.GetInteractionByAnswer(msg.ChatID, msg.ReplyTo.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up answered interaction: %w", err)
	}
	if !b.isAdmin(ctx, msg.ChatID, msg.SenderID) {
		return false, nil
	}

	_, err = learning.Enqueue(b.store, learning.Correction{
		GroupID:       msg.ChatID,
		Question:      in.Question,
		Answer:        text,
		InteractionID: in.ID,
		AdminID:       msg.SenderID,
	})
	if err != nil {
		return true, b.replyFailure(ctx, msg, textSaveFailed, err)
	}
	b.logger.Info("correction queued", "group_id", msg.ChatID, "user_id", msg.SenderID, "interaction_id", in.ID)
	return true, b.reply(ctx, msg, "Thanks! I'll use that answer from now on.")
}

func (b *Bot) isAdmin(ctx context.Context, chatID, userID int64) bool {
	ok, err := b.members.IsAdmin(ctx, chatID, userID)
	if err != nil {
		b.logger.Warn("admin check failed", "chat_id", chatID, "user_id", userID, "error", err)
		return false
	}
	return ok
}

func (b *Bot) reply(ctx context.Context, msg Message, text string) error {
	_, err := b.sender.SendText(ctx, msg.ChatID, text, msg.MessageID)
	if err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// replyFailure tells the user an operation failed and returns cause.
// A reply that cannot be delivered is logged next to cause.
func (b *Bot) replyFailure(ctx context.Context, msg Message, text string, cause error) error {
	if err := b.reply(ctx, msg, text); err != nil {
		b.logger.Warn("failure reply not delivered", "chat_id", msg.ChatID, "user_id", msg.SenderID, "cause", cause, "error", err)
	}
	return cause
}

func (b *Bot) handleMembership(ctx context.Context, m Membership) error {
	group, err := b.store.EnsureGroup(m.ChatID, m.ChatTitle)
	if err != nil {
		return fmt.Errorf("ensuring group: %w", err)
	}

	switch m.Kind {
	case BotPromoted:
		if group.SetupComplete {
			return nil
		}
		_, err = b.sender.SendText(ctx, m.ChatID, textPromoted, 0)
	case MemberJoined:
		if !group.SetupComplete || group.Paused {
			return nil
		}
		_, err = b.sender.SendText(ctx, m.ChatID, welcomeText(m.Name, group), 0)
	}
	return err
}

func welcomeText(name string, g storage.Group) string {
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "Welcome, %s!", name)
	} else {
		sb.WriteString("Welcome!")
	}
	if g.Purpose != "" {
		fmt.Fprintf(&sb, " This group is about: %s.", strings.TrimRight(g.Purpose, "."))
	}
	if len(g.Rules) > 0 {
		sb.WriteString("\n\nPlease keep in mind the rules:")
		for i, r := range g.Rules {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, r)
		}
	}
	return sb.String()
}
