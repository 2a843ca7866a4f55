// Package notify delivers engine events to operators.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ndr-go/internal/ndr"
)

const (
	DefaultAPIURL        = "https://api.telegram.org"
	DefaultTimeout       = 5 * time.Second
	DefaultRatePerMinute = 20
)

var icons = map[ndr.Severity]string{
	ndr.SeverityInfo:    "ℹ️",
	ndr.SeverityWarning: "⚠️",
	ndr.SeverityError:   "❌",
	ndr.SeveritySuccess: "✅",
}

// Icon returns the emoji prefix for a severity.
func Icon(s ndr.Severity) string {
	if icon, ok := icons[s]; ok {
		return icon
	}
	return "📢"
}

// Format renders a message the way it appears in the chat.
func Format(title, message string, severity ndr.Severity) string {
	return fmt.Sprintf("%s *%s*\n\n%s", Icon(severity), title, message)
}

// TelegramNotifier posts messages through the Telegram Bot API. A missing
// token or chat ID turns every Notify into a logged no-op.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiURL  string
	client  *http.Client
	limiter *rate.Limiter
	logger  ndr.Logger
}

type TelegramOption func(*TelegramNotifier)

func WithAPIURL(u string) TelegramOption {
	return func(n *TelegramNotifier) {
		if u != "" {
			n.apiURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(c *http.Client) TelegramOption {
	return func(n *TelegramNotifier) {
		n.client = c
	}
}

// WithRatePerMinute caps outgoing messages. Telegram throttles bots that
// post to one chat more than about twenty times a minute.
func WithRatePerMinute(perMinute int) TelegramOption {
	return func(n *TelegramNotifier) {
		if perMinute > 0 {
			n.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

func WithTimeout(d time.Duration) TelegramOption {
	return func(n *TelegramNotifier) {
		if d > 0 {
			n.client.Timeout = d
		}
	}
}

func NewTelegramNotifier(token, chatID string, logger ndr.Logger, opts ...TelegramOption) *TelegramNotifier {
	n := &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiURL:  DefaultAPIURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/DefaultRatePerMinute), 1),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (n *TelegramNotifier) Notify(ctx context.Context, title string, message string, severity ndr.Severity) error {
	if n.token == "" || n.chatID == "" {
		n.logger.Warn("telegram token or chat id not set, skipping notification", "title", title)
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for notification slot: %w", err)
	}

	form := url.Values{
		"chat_id":    {n.chatID},
		"text":       {Format(title, message, severity)},
		"parse_mode": {"Markdown"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("reading telegram response: %w", err)
	}

	var parsed sendMessageResponse
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		desc := parsed.Description
		if desc == "" {
			desc = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("telegram rejected message (status %d): %s", resp.StatusCode, desc)
	}
	return nil
}

var _ ndr.Notifier = (*TelegramNotifier)(nil)
