package bot

import "context"

// ChatKind distinguishes private chats from groups.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// ReplyRef describes the message an incoming message replies to.
type ReplyRef struct {
	MessageID int64
	FromBot   bool
}

// Message is an inbound chat message.
type Message struct {
	ChatID     int64
	ChatKind   ChatKind
	ChatTitle  string
	SenderID   int64
	SenderName string
	Text       string
	MessageID  int64
	ReplyTo    *ReplyRef
}

// Reaction is a press of a feedback button under one of the bot's answers.
type Reaction struct {
	ChatID      int64
	UserID      int64
	AnswerMsgID int64
	Positive    bool
	CallbackID  string
}

// MembershipKind identifies a membership change.
type MembershipKind int

const (
	BotPromoted MembershipKind = iota + 1
	MemberJoined
)

// Membership is a change in who is in a group.
type Membership struct {
	ChatID    int64
	ChatTitle string
	Kind      MembershipKind
	Name      string
}

// Sender delivers outbound messages. Implemented by telegram.Client.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
	// AttachFeedback adds thumbs up/down buttons to a sent message.
	AttachFeedback(ctx context.Context, chatID, msgID int64) error
	// RemoveFeedback strips the buttons from a previously sent message.
	RemoveFeedback(ctx context.Context, chatID, msgID int64) error
	// AckFeedback answers a button press with a short toast.
	AckFeedback(ctx context.Context, callbackID, text string) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte) error
}

// Members answers authorization questions about chat members.
type Members interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}
