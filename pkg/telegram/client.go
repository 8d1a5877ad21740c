package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sportadm/events-api/internal/service/dispatch"
	"github.com/sportadm/events-api/pkg/circuitbreaker"
)

const defaultAPIBaseURL = "https://api.telegram.org"

type Config struct {
	Token      string
	APIBaseURL string
	// SendRate throttles messages per second; the Bot API caps broadcast
	// traffic around 30/s.
	SendRate  float64
	SendBurst int
}

// Client sends messages through the Telegram Bot API. It implements the
// dispatch Sender contract: one call, one remote send, no other side effects.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 25
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(sendRate), burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "telegram",
			MaxFailures: 10,
			Timeout:     30 * time.Second,
		}),
	}
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string                `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send delivers one message to one chat, attaching announcement controls when
// a presentation is provided.
func (c *Client) Send(ctx context.Context, target, text string, pres *dispatch.Presentation) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req := sendMessageRequest{
		ChatID:      target,
		Text:        text,
		ReplyMarkup: buildKeyboard(pres),
	}

	return c.breaker.Execute(func() error {
		return c.sendMessage(ctx, req)
	})
}

func (c *Client) sendMessage(ctx context.Context, req sendMessageRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram API error %d: %s", body.ErrorCode, body.Description)
	}
	return nil
}

// buildKeyboard composes the inline controls under an announcement: the
// registration call-to-action (primary wording for the event's first
// announcement, secondary for follow-ups) plus an optional link button.
func buildKeyboard(pres *dispatch.Presentation) *inlineKeyboardMarkup {
	if pres == nil {
		return nil
	}

	ctaText := "Follow event"
	if pres.FirstAnnouncement {
		ctaText = "Register now"
	}

	row := []inlineKeyboardButton{{
		Text:         ctaText,
		CallbackData: fmt.Sprintf("EVT_REG:%s", pres.EventID),
	}}
	if pres.LinkURL != "" {
		row = append(row, inlineKeyboardButton{
			Text: "Details",
			URL:  pres.LinkURL,
		})
	}

	return &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{row}}
}
