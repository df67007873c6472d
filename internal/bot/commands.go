package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/groupmind/internal/command"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/setup"
	"github.com/kalambet/groupmind/internal/storage"
)

// maxListed bounds the /knowledge listing so it fits in one message.
const maxListed = 20

func (b *Bot) privateCommand(ctx context.Context, msg Message, cmd command.Command) error {
	switch cmd.Kind {
	case command.Start:
		if sess, err := b.setup.Get(ctx, msg.SenderID); err == nil {
			return b.reply(ctx, msg, setup.Prompt(sess.Step))
		}
		return b.reply(ctx, msg, textStart)
	case command.Help:
		return b.reply(ctx, msg, textHelp)
	case command.Cancel:
		return b.cancelSetup(ctx, msg)
	}
	return b.reply(ctx, msg, textUseInGroup)
}

func (b *Bot) groupCommand(ctx context.Context, msg Message, group storage.Group, cmd command.Command) error {
	if cmd.Kind.AdminOnly() && !b.isAdmin(ctx, msg.ChatID, msg.SenderID) {
		b.logger.Info("admin command denied", "group_id", group.ID, "user_id", msg.SenderID, "command", cmd.Kind.String())
		return b.reply(ctx, msg, textAdminOnly)
	}

	switch cmd.Kind {
	case command.Start, command.Help:
		return b.reply(ctx, msg, textHelp)
	case command.Setup:
		return b.beginSetup(ctx, msg, group)
	case command.Cancel:
		return b.cancelSetup(ctx, msg)
	case command.Teach:
		return b.teach(ctx, msg, group, cmd)
	case command.Forget:
		return b.forget(ctx, msg, group, cmd)
	case command.Pause:
		return b.setPaused(ctx, msg, group, true)
	case command.Resume:
		return b.setPaused(ctx, msg, group, false)
	case command.Export:
		return b.sendExport(ctx, msg, group)
	case command.Stats:
		return b.sendStats(ctx, msg, group)
	case command.Knowledge:
		return b.listKnowledge(ctx, msg, group)
	}
	return nil
}

func (b *Bot) beginSetup(ctx context.Context, msg Message, group storage.Group) error {
	if _, err := b.setup.Begin(ctx, msg.SenderID, group.ID); err != nil {
		return b.replyFailure(ctx, msg, "Could not start setup, please try again.", err)
	}

	title := group.Title
	if title == "" {
		title = "your group"
	}
	intro := fmt.Sprintf("Let's set me up for %s. You can send /cancel at any time.\n\n%s", title, setup.Prompt(setup.StepPurpose))
	if _, err := b.sender.SendText(ctx, msg.SenderID, intro, 0); err != nil {
		b.logger.Warn("setup DM failed", "user_id", msg.SenderID, "error", err)
		return b.reply(ctx, msg, textSetupNoDM)
	}
	return b.reply(ctx, msg, textSetupStarted)
}

func (b *Bot) cancelSetup(ctx context.Context, msg Message) error {
	ok, err := b.setup.Cancel(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ctx, msg, textNothingToDo)
	}
	return b.reply(ctx, msg, textCancelled)
}

func (b *Bot) teach(ctx context.Context, msg Message, group storage.Group, cmd command.Command) error {
	e, err := b.knowledge.Teach(ctx, group.ID, cmd.Question, cmd.Answer, storage.SourceManual)
	if err != nil {
		return b.replyFailure(ctx, msg, textSaveFailed, err)
	}
	b.logger.Info("knowledge taught", "group_id", group.ID, "user_id", msg.SenderID, "entry_id", e.ID)
	return b.reply(ctx, msg, fmt.Sprintf("Got it! I'll answer %q with that from now on.", e.Question))
}

func (b *Bot) forget(ctx context.Context, msg Message, group storage.Group, cmd command.Command) error {
	n, err := b.knowledge.Forget(ctx, group.ID, cmd.Keyword)
	if err != nil {
		return b.replyFailure(ctx, msg, "Could not forget those answers, please try again.", err)
	}
	b.logger.Info("knowledge forgotten", "group_id", group.ID, "user_id", msg.SenderID, "keyword", cmd.Keyword, "count", n)
	if n == 0 {
		return b.reply(ctx, msg, fmt.Sprintf("I don't know anything about %q.", cmd.Keyword))
	}
	return b.reply(ctx, msg, fmt.Sprintf("Forgot %d answer(s) mentioning %q.", n, cmd.Keyword))
}

func (b *Bot) setPaused(ctx context.Context, msg Message, group storage.Group, paused bool) error {
	if !group.SetupComplete {
		return b.reply(ctx, msg, textNeedsSetup)
	}

	unlock := b.groups.Lock(group.ID)
	err := b.store.SetPaused(group.ID, paused)
	unlock()
	if err != nil {
		return fmt.Errorf("setting paused=%v: %w", paused, err)
	}

	b.logger.Info("group pause changed", "group_id", group.ID, "paused", paused)
	if paused {
		return b.reply(ctx, msg, textPaused)
	}
	return b.reply(ctx, msg, textResumed)
}

func (b *Bot) sendExport(ctx context.Context, msg Message, group storage.Group) error {
	doc, err := b.Export(ctx, group.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	name := fmt.Sprintf("groupmind-%d.json", group.ID)
	if err := b.sender.SendDocument(ctx, msg.ChatID, name, data); err != nil {
		return fmt.Errorf("sending export: %w", err)
	}
	return nil
}

func (b *Bot) sendStats(ctx context.Context, msg Message, group storage.Group) error {
	doc, err := b.Export(ctx, group.ID)
	if err != nil {
		return err
	}
	ks, err := b.knowledge.Stats(ctx, group.ID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Knowledge: %d entries (%d trusted, %d dormant), average confidence %.2f, used %d times\n",
		ks.Entries, ks.Trusted, ks.Dormant, ks.AvgConfidence, ks.TotalUsage)
	st := doc.Stats
	fmt.Fprintf(&sb, "Answers: %d (👍 %d, 👎 %d)", st.Interactions, st.Positive, st.Negative)
	for _, src := range []string{"knowledge", storage.InteractionCache, storage.InteractionAI, storage.InteractionFallback} {
		if n := st.BySource[src]; n > 0 {
			fmt.Fprintf(&sb, "\n  %s: %d", src, n)
		}
	}
	if group.Paused {
		sb.WriteString("\nStatus: paused")
	}
	return b.reply(ctx, msg, sb.String())
}

func (b *Bot) listKnowledge(ctx context.Context, msg Message, group storage.Group) error {
	entries, err := b.knowledge.List(ctx, group.ID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	listed := 0
	for _, e := range entries {
		if !knowledge.Trusted(e) {
			continue
		}
		if listed == maxListed {
			sb.WriteString("\n...")
			break
		}
		fmt.Fprintf(&sb, "\n• %s", e.Question)
		listed++
	}
	if listed == 0 {
		return b.reply(ctx, msg, "I haven't been taught anything yet.")
	}
	return b.reply(ctx, msg, "Here's what I know:"+sb.String())
}
