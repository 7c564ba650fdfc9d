// Package notify pushes batch summaries to a Telegram chat through the Bot
// API. Unconfigured notifiers silently do nothing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coupuas/threadauto/internal/logging"
	"github.com/coupuas/threadauto/internal/orchestrator"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends messages through one bot to one chat.
type Telegram struct {
	apiBase  string
	botToken string
	chatID   string
	httpc    *http.Client
	log      logging.Logger
}

func NewTelegram(botToken, chatID string, log logging.Logger) *Telegram {
	return &Telegram{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Configured reports whether both token and chat id are set.
func (t *Telegram) Configured() bool {
	return t.botToken != "" && t.chatID != ""
}

// Send delivers one HTML-formatted message.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Configured() {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: HTTP %d", resp.StatusCode)
	}
	return nil
}

// maxListed bounds how many uploaded titles the summary names.
const maxListed = 5

// FormatBatchResult renders the summary message for a finished batch.
func FormatBatchResult(res orchestrator.BatchResult) string {
	status := "✅ 완료"
	if res.Cancelled {
		status = "🛑 취소됨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>📊 쿠팡 파트너스 업로드 %s</b>\n\n", status)
	fmt.Fprintf(&b, "🔗 전체 링크: %d개\n", res.Total)
	fmt.Fprintf(&b, "❌ 파싱 실패: %d개\n\n", res.ParseFailed)
	b.WriteString("📤 <b>업로드 결과</b>\n")
	fmt.Fprintf(&b, "✅ 성공: %d개\n", res.Uploaded)
	fmt.Fprintf(&b, "❌ 실패: %d개\n", res.Failed)

	var uploaded []orchestrator.ItemDetail
	for _, d := range res.Details {
		if d.Status == orchestrator.StatusUploaded {
			uploaded = append(uploaded, d)
		}
	}
	if len(uploaded) > 0 {
		b.WriteString("\n<b>📋 업로드 성공 목록</b>\n")
		for i, d := range uploaded {
			if i == maxListed {
				fmt.Fprintf(&b, "... 외 %d개\n", len(uploaded)-maxListed)
				break
			}
			title := d.Title
			if r := []rune(title); len(r) > 30 {
				title = string(r[:30]) + "..."
			}
			fmt.Fprintf(&b, "• %s\n", title)
		}
	}
	return strings.TrimSpace(b.String())
}

// SendBatchResult formats and delivers the summary. Failures are logged, not
// returned: notification is not part of the batch's success criteria.
func (t *Telegram) SendBatchResult(ctx context.Context, res orchestrator.BatchResult) {
	if !t.Configured() {
		return
	}
	if err := t.Send(ctx, FormatBatchResult(res)); err != nil {
		t.log.Warn(ctx, "sending telegram summary failed", "error", err)
	}
}

// SendError delivers an error alert.
func (t *Telegram) SendError(ctx context.Context, msg string) {
	if !t.Configured() {
		return
	}
	text := fmt.Sprintf("<b>🚨 오류 발생</b>\n\n%s", msg)
	if err := t.Send(ctx, text); err != nil {
		t.log.Warn(ctx, "sending telegram alert failed", "error", err)
	}
}
