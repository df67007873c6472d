package bot

import (
	"errors"

	"github.com/kalambet/groupmind/internal/command"
	"github.com/kalambet/groupmind/internal/storage"
)

const (
	textHelp = `I answer questions in this group from what admins teach me, and ask an AI when I don't know.

Everyone:
/help - show this message
/knowledge - list what I've been taught

Admins:
/setup - configure me (in a private chat)
/teach question | answer - teach me an answer
/forget keyword - forget answers mentioning keyword
/pause, /resume - stop or restart answering
/stats - show how I'm doing
/export - download everything I know about this group

React with 👍 or 👎 under my answers to help me improve. Admins can reply to any of my answers with a better one.`

	textStart        = "Hi! Add me to a group and make me an admin, then run /setup there to configure me."
	textNoSession    = "There is no setup in progress. Run /setup in your group to start one."
	textUseInGroup   = "Please use this command in your group."
	textAdminOnly    = "Sorry, only group admins can do that."
	textSaveFailed   = "Could not save that answer, please try again."
	textPromoted     = "Thanks for adding me! An admin can run /setup to configure me."
	textNeedsSetup   = "I'm not set up yet. An admin can run /setup to configure me."
	textSetupStarted = "I've sent you a private message to set things up."
	textSetupNoDM    = "I couldn't message you privately. Please start a private chat with me first, then run /setup again."
	textPaused       = "Paused. I won't answer until an admin runs /resume."
	textResumed      = "I'm back and answering again."
	textCancelled    = "Setup cancelled. Nothing was changed."
	textNothingToDo  = "There is no setup in progress."
)

func commandErrorText(err error) string {
	var fe *command.FormatError
	if errors.As(err, &fe) {
		return "Sorry, I didn't get that. " + capitalize(fe.Hint)
	}
	return "Unknown command. Try /help."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func ignoreNotFound(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}

func ignoreFeedbackRecorded(err error) error {
	if errors.Is(err, storage.ErrFeedbackRecorded) {
		return nil
	}
	return err
}
