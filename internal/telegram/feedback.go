package telegram

import (
	"strconv"
	"strings"
)

const (
	feedbackUp   = "fb:up:"
	feedbackDown = "fb:down:"
)

// FeedbackData is the callback payload of a feedback button.
func FeedbackData(msgID int64, positive bool) string {
	prefix := feedbackDown
	if positive {
		prefix = feedbackUp
	}
	return prefix + strconv.FormatInt(msgID, 10)
}

// ParseFeedbackData decodes a payload produced by FeedbackData.
func ParseFeedbackData(data string) (msgID int64, positive bool, ok bool) {
	rest, found := strings.CutPrefix(data, feedbackUp)
	if found {
		positive = true
	} else if rest, found = strings.CutPrefix(data, feedbackDown); !found {
		return 0, false, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, false
	}
	return id, positive, true
}

func feedbackKeyboard(msgID int64) *inlineKeyboardMarkup {
	return &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{{
		{Text: "👍", CallbackData: FeedbackData(msgID, true)},
		{Text: "👎", CallbackData: FeedbackData(msgID, false)},
	}}}
}
