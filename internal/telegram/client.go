// Package telegram connects the bot to the Telegram Bot API: a long-poll
// loop for inbound updates and a client for outbound messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	maxMessageLen  = 4096
)

// Client calls the Telegram Bot API. It implements bot.Sender and bot.Members.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a client. A nil httpClient gets a 60s timeout.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// APIError is a request the Bot API rejected.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("telegram %s: http %d", e.Method, e.StatusCode)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call POSTs a JSON body to method and decodes the result into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decoding response: %w", method, err)
	}
	if !ar.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, StatusCode: resp.StatusCode, ErrorCode: ar.ErrorCode, Description: ar.Description}
	}
	if out != nil {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// Identity is the bot account behind the token.
type Identity struct {
	ID       int64
	Username string
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (Identity, error) {
	var u user
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return Identity{}, err
	}
	return Identity{ID: u.ID, Username: u.Username}, nil
}

func (c *Client) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var updates []update
	err := c.call(reqCtx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        secs,
		AllowedUpdates: []string{"message", "callback_query", "my_chat_member"},
	}, &updates)
	return updates, err
}

func (c *Client) sendMessage(ctx context.Context, req sendMessageRequest) (int64, error) {
	var m message
	if err := c.call(ctx, "sendMessage", req, &m); err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

// SendText sends a plain-text message, optionally as a reply.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	return c.sendMessage(ctx, sendMessageRequest{
		ChatID:                chatID,
		Text:                  truncate(text),
		DisableWebPagePreview: true,
		ReplyToMessageID:      replyTo,
	})
}

// AttachFeedback adds 👍/👎 buttons to a sent message. Each button's payload
// carries the message id, so a press can be traced back to the answer.
func (c *Client) AttachFeedback(ctx context.Context, chatID, msgID int64) error {
	err := c.call(ctx, "editMessageReplyMarkup", editReplyMarkupRequest{
		ChatID:      chatID,
		MessageID:   msgID,
		ReplyMarkup: feedbackKeyboard(msgID),
	}, nil)
	if err != nil {
		return fmt.Errorf("attaching feedback buttons: %w", err)
	}
	return nil
}

// RemoveFeedback strips the inline keyboard from a message.
func (c *Client) RemoveFeedback(ctx context.Context, chatID, msgID int64) error {
	return c.call(ctx, "editMessageReplyMarkup", editReplyMarkupRequest{
		ChatID:      chatID,
		MessageID:   msgID,
		ReplyMarkup: &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{}},
	}, nil)
}

// AckFeedback answers a callback query with a short toast.
func (c *Client) AckFeedback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

// SendDocument uploads data as a file named name.
func (c *Client) SendDocument(ctx context.Context, chatID int64, name string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "sendDocument", nil)
}

// IsAdmin reports whether userID is the creator or an administrator of chatID.
func (c *Client) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var m chatMember
	if err := c.call(ctx, "getChatMember", getChatMemberRequest{ChatID: chatID, UserID: userID}, &m); err != nil {
		return false, err
	}
	return m.Status == "creator" || m.Status == "administrator", nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageLen {
		return text
	}
	return string(r[:maxMessageLen-1]) + "…"
}
