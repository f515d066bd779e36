// Package notify delivers change reports to Telegram. Delivery is
// best-effort: failures are logged and reported as a boolean, never
// escalated into the scan control flow.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	apperrors "github.com/GarussMisha/VK-masscan/internal/errors"
	"github.com/GarussMisha/VK-masscan/internal/history"
	"github.com/GarussMisha/VK-masscan/internal/logging"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	sendTimeout    = 10 * time.Second
)

// Notifier sends messages to a Telegram chat.
type Notifier struct {
	apiBase string
	token   string
	chatID  string
	enabled bool
	client  *http.Client
	logger  *logging.Logger
}

// New creates a Telegram notifier. A disabled notifier swallows every
// Send and reports success, so callers never branch on delivery config.
func New(token, chatID string, enabled bool, logger *logging.Logger) *Notifier {
	return &Notifier{
		apiBase: defaultAPIBase,
		token:   token,
		chatID:  chatID,
		enabled: enabled,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger.WithComponent("notify"),
	}
}

// Send posts message to the chat with HTML parse mode. The primary
// attempt carries the run context; if that attempt failed because the
// context was canceled, one fallback attempt runs without it so
// shutdown notifications still go out. Returns whether delivery
// succeeded.
func (n *Notifier) Send(ctx context.Context, message string) bool {
	if !n.enabled {
		return true
	}

	err := n.post(ctx, message)
	if err == nil {
		return true
	}

	if errors.Is(err, context.Canceled) {
		n.logger.InfoNotify("primary send canceled, retrying without run context")
		if fbErr := n.post(context.Background(), message); fbErr != nil {
			n.logger.ErrorNotify("fallback send failed",
				apperrors.WrapNotifyError("fallback delivery failed", "telegram", fbErr))
			return false
		}
		return true
	}

	n.logger.ErrorNotify("send failed",
		apperrors.WrapNotifyError("delivery failed", "telegram", err))
	return false
}

func (n *Notifier) post(ctx context.Context, message string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	form := url.Values{
		"chat_id":    {n.chatID},
		"text":       {message},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Message formatters. Each returns a single HTML text block with
// labeled fields, matching the chat layout the operators already read.

// Swappable clock for the timestamp lines.
var now = time.Now

// timestamp renders the event time for a message's labeled Time field.
func timestamp() string {
	return now().Format("2006-01-02 15:04:05")
}

// ScanStarted announces a one-shot scan of a target.
func ScanStarted(targetName, target string) string {
	return fmt.Sprintf("🔍 <b>Scan started</b>\nTarget: <b>%s</b>\nRange: <code>%s</code>",
		html.EscapeString(targetName), html.EscapeString(target))
}

// ScanComplete summarizes a finished one-shot scan of a target.
func ScanComplete(targetName string, hosts, openPorts int, elapsed time.Duration) string {
	return fmt.Sprintf("✅ <b>Scan complete</b>\nTarget: <b>%s</b>\nHosts with open ports: %d\nOpen ports: %d\nDuration: %s\nTime: %s",
		html.EscapeString(targetName), hosts, openPorts, elapsed.Round(time.Second), timestamp())
}

// NoOpenPorts reports an empty one-shot scan result.
func NoOpenPorts(targetName string) string {
	return fmt.Sprintf("✅ <b>Scan complete</b>\nTarget: <b>%s</b>\nNo open ports found",
		html.EscapeString(targetName))
}

// NewPorts reports newly observed ports on one address.
func NewPorts(address string, ports []uint16, services map[uint16]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>New open ports</b>\nHost: <code>%s</code>\nTime: %s\n",
		html.EscapeString(address), timestamp())
	for _, p := range ports {
		banner := services[p]
		if banner == "" {
			banner = "unknown"
		}
		fmt.Fprintf(&b, "• <b>%d</b> — %s\n", p, html.EscapeString(banner))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ChangedServices reports banner transitions on one address.
func ChangedServices(address string, changes map[uint16]history.ServiceChange) string {
	ports := make([]int, 0, len(changes))
	for p := range changes {
		ports = append(ports, int(p))
	}
	sort.Ints(ports)

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ <b>Service changes</b>\nHost: <code>%s</code>\n", html.EscapeString(address))
	for _, p := range ports {
		c := changes[uint16(p)]
		fmt.Fprintf(&b, "• <b>%d</b>: %s → %s\n",
			p, html.EscapeString(c.Old), html.EscapeString(c.New))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ScheduleStarted announces the watch loop starting.
func ScheduleStarted(targets int, interval string) string {
	return fmt.Sprintf("▶️ <b>Schedule started</b>\nTargets: %d\nInterval: %s",
		targets, html.EscapeString(interval))
}

// ScheduleStopped reports the watch loop stopping with its lifetime
// counters.
func ScheduleStopped(cycles, portChecks int) string {
	return fmt.Sprintf("⏹ <b>Schedule stopped</b>\nCycles completed: %d\nPort checks: %d",
		cycles, portChecks)
}
