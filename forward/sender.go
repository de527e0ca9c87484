package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/xraph/relayhub/event"
)

// maxResponseBody caps how much of a failed response is read for the error message.
const maxResponseBody = 4 * MaxErrorLength

// Result holds the outcome of a single HTTP delivery.
type Result struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Success    bool
	Error      string
	Reason     string
	LatencyMs  int
}

// Sender performs the outbound HTTP POST.
type Sender struct {
	client  *http.Client
	timeout time.Duration
	appName string
}

// NewSender creates a sender that gives up after timeout and identifies
// itself as appName in X-Forwarded-From.
func NewSender(timeout time.Duration, appName string) *Sender {
	return &Sender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		appName: appName,
	}
}

// IsSuccessStatus reports whether code counts as a delivered webhook.
func IsSuccessStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

// Send posts the event's raw payload to targetURL.
func (s *Sender) Send(ctx context.Context, evt *event.Event, targetURL string) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(evt.RawPayload))
	if err != nil {
		return Result{Error: truncate(fmt.Sprintf("create request: %v", err), MaxErrorLength), Reason: ReasonNetworkError}
	}

	eventType := evt.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "relayhub/1.0")
	req.Header.Set("X-Forwarded-From", s.appName)
	req.Header.Set("X-Event-Source", evt.Source)
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Event-ID", evt.ID.String())

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: target is an operator-configured forward URL.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		if isTimeout(err) {
			return Result{Error: "Request timeout", Reason: ReasonTimeout, LatencyMs: latency}
		}
		return Result{Error: truncate(err.Error(), MaxErrorLength), Reason: ReasonNetworkError, LatencyMs: latency}
	}
	defer resp.Body.Close()

	if IsSuccessStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return Result{StatusCode: resp.StatusCode, Success: true, LatencyMs: latency}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), MaxErrorLength))
	return Result{
		StatusCode: resp.StatusCode,
		Error:      truncate(msg, MaxErrorLength),
		Reason:     ReasonHTTPStatus,
		LatencyMs:  latency,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
