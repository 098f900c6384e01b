package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"derivbot/internal/domain"
)

// Notifier pushes plain-text trade events to a Telegram chat. A notifier
// without credentials is inert, so callers can wire it unconditionally.
type Notifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyTrade announces a purchased contract in the configured chat.
func (n *Notifier) NotifyTrade(ctx context.Context, trade domain.Trade) error {
	return n.send(ctx, tradeMessage(trade))
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || text == "" {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)

	body := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telegram sendMessage: status %d", resp.StatusCode)
	}
	return nil
}

func tradeMessage(trade domain.Trade) string {
	return fmt.Sprintf("[%s] bought %s %s: stake %.2f, payout %.2f, contract %s",
		trade.TenantID, trade.Symbol, trade.ContractType, trade.Amount, trade.Payout, trade.ContractID)
}
