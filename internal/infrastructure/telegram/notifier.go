package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/ports"
)

// Notifier posts price-drop digests to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// PublishPriceAlerts posts a Markdown digest of the cycle's price drops.
// Other change types are skipped; an empty digest sends nothing.
func (n *Notifier) PublishPriceAlerts(ctx context.Context, events []domain.ChangeEvent) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	message := buildAlertMessage(events)
	if message == "" {
		return nil
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func buildAlertMessage(events []domain.ChangeEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type != domain.ChangePriceDrop {
			continue
		}
		fmt.Fprintf(&b, "📉 *%s*\n%s: %.2f → %.2f (-%.1f%%)\n\n",
			ev.Record.SKU,
			ev.NewSupplier,
			ev.OldPrice,
			ev.NewPrice,
			ev.Percent)
	}
	return strings.TrimSpace(b.String())
}
