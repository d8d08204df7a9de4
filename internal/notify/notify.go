// Package notify は入場成功を外部のWebhookへ通知する。
// 通知内容に秘密鍵文字列は含めない。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event は入場成功の通知内容。
type Event struct {
	ID             string    `json:"id"`
	Wallet         string    `json:"wallet"`
	Position       int       `json:"position"`
	SpotsRemaining int       `json:"spots_remaining"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewEvent は一意なIDを付与したEventを生成する。
func NewEvent(wallet string, position, spotsRemaining int, at time.Time) Event {
	return Event{
		ID:             uuid.New().String(),
		Wallet:         wallet,
		Position:       position,
		SpotsRemaining: spotsRemaining,
		Timestamp:      at,
	}
}

// Notifier は入場通知の送信先インターフェース。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier は何も送信しないNotifier。Webhook未設定時に使う。
type NopNotifier struct{}

// Notify は何もしない。
func (NopNotifier) Notify(context.Context, Event) error { return nil }

// WebhookNotifier はEventをJSONでPOSTするNotifier。
type WebhookNotifier struct {
	client *http.Client
	url    string
}

// NewWebhookNotifier はWebhookNotifierを生成する。
// clientにはsecurity.NewSafeClientで生成したクライアントを渡すことを想定している。
func NewWebhookNotifier(client *http.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

// Notify はEventを送信する。2xx以外のレスポンスはエラーとする。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", event.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var (
	_ Notifier = NopNotifier{}
	_ Notifier = (*WebhookNotifier)(nil)
)
