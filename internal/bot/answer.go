package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/groupmind/internal/completion"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/storage"
	"github.com/kalambet/groupmind/internal/trigger"
)

// answer replies to a group message if the trigger rules say so. The reply
// comes from trusted knowledge, then the response cache, then the
// completion service.
func (b *Bot) answer(ctx context.Context, msg Message, group storage.Group) error {
	d := trigger.Evaluate(
		trigger.Message{Text: msg.Text, ReplyToBot: msg.ReplyTo != nil && msg.ReplyTo.FromBot},
		trigger.Config{BotHandle: b.handle, Triggers: group.Triggers},
	)
	if !d.Respond {
		return nil
	}

	query := strings.TrimSpace(trigger.StripMention(msg.Text, b.handle))
	if query == "" {
		return nil
	}
	b.logger.Debug("answering", "group_id", group.ID, "reason", string(d.Reason), "keyword", d.Keyword)

	text, source := b.resolve(ctx, group, query)

	answerID, err := b.sender.SendText(ctx, msg.ChatID, text, msg.MessageID)
	if err != nil {
		return fmt.Errorf("sending answer: %w", err)
	}

	// The interaction must exist before the buttons can be pressed.
	rec := storage.Interaction{
		ID:            uuid.New().String(),
		GroupID:       group.ID,
		Question:      query,
		Answer:        text,
		Source:        source,
		QuestionMsgID: msg.MessageID,
		AnswerMsgID:   answerID,
	}
	if err := b.store.SaveInteraction(rec); err != nil {
		// The member already has the answer; it just cannot be rated.
		b.logger.Error("recording interaction failed", "group_id", group.ID, "error", err)
		return nil
	}
	if err := b.sender.AttachFeedback(ctx, msg.ChatID, answerID); err != nil {
		b.logger.Warn("answer sent without feedback buttons", "group_id", group.ID, "error", err)
	}
	return nil
}

// resolve picks the reply text and its interaction source.
func (b *Bot) resolve(ctx context.Context, group storage.Group, query string) (string, string) {
	var hints []storage.KnowledgeEntry

	entry, err := b.knowledge.Retrieve(ctx, group.ID, query)
	switch {
	case err != nil:
		b.logger.Warn("knowledge lookup failed", "group_id", group.ID, "error", err)
	case entry != nil && knowledge.Trusted(*entry):
		b.knowledge.RecordUsage(ctx, entry.ID)
		return entry.Answer, storage.KnowledgeSource(entry.ID)
	case entry != nil:
		hints = append(hints, *entry)
	}

	if cached, ok := b.cache.Get(group.ID, query); ok {
		return cached, storage.InteractionCache
	}

	key := fmt.Sprintf("%d:%s", group.ID, strings.ToLower(query))
	res := b.completer.Complete(ctx, key, completion.Request{
		Query:  query,
		System: b.composer.Compose(group, hints),
	})
	if res.Fallback {
		return res.Text, storage.InteractionFallback
	}
	b.cache.Put(group.ID, query, res.Text)
	return res.Text, storage.InteractionAI
}

func (b *Bot) handleReaction(ctx context.Context, r Reaction) error {
	in, err := b.store.GetInteractionByAnswer(r.ChatID, r.AnswerMsgID)
	if err != nil {
		b.ack(ctx, r, "This answer can no longer be rated.")
		return ignoreNotFound(err)
	}

	fb := -1
	if r.Positive {
		fb = 1
	}
	if err := b.store.SetInteractionFeedback(in.ID, fb); err != nil {
		b.ack(ctx, r, "Feedback was already recorded for this answer.")
		return ignoreFeedbackRecorded(err)
	}

	if id, ok := storage.ParseKnowledgeSource(in.Source); ok {
		e, err := b.knowledge.Feedback(ctx, id, r.Positive)
		switch {
		case err == nil:
			b.logger.Info("knowledge confidence adjusted", "group_id", r.ChatID, "entry_id", id, "confidence", e.Confidence)
		case !isNotFound(err):
			b.logger.Error("adjusting knowledge confidence failed", "entry_id", id, "error", err)
		}
	}

	if err := b.sender.RemoveFeedback(ctx, r.ChatID, r.AnswerMsgID); err != nil {
		b.logger.Warn("removing feedback buttons failed", "chat_id", r.ChatID, "error", err)
	}
	b.ack(ctx, r, "Thanks for the feedback!")
	return nil
}

func (b *Bot) ack(ctx context.Context, r Reaction, text string) {
	if r.CallbackID == "" {
		return
	}
	if err := b.sender.AckFeedback(ctx, r.CallbackID, text); err != nil {
		b.logger.Warn("acknowledging feedback failed", "error", err)
	}
}
