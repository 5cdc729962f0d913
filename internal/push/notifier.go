// SPDX-License-Identifier: MIT

// Package push delivers wake-up notifications to backgrounded endpoints
// through a push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/metrics"
)

// HTTPNotifier posts notifications to a push gateway endpoint. Sends are
// throttled so a burst of exchanges cannot flood the gateway.
type HTTPNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPNotifier creates a notifier for the given gateway URL.
// ratePerSec/burst bound outbound sends.
func NewHTTPNotifier(url string, ratePerSec float64, burst int) *HTTPNotifier {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &HTTPNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  log.WithComponent("push"),
	}
}

type pushRequest struct {
	Token   string `json:"token"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Send delivers one notification, waiting for limiter capacity or ctx.
func (n *HTTPNotifier) Send(ctx context.Context, token, fromUserID, message string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		metrics.RecordPushSend("throttled")
		return fmt.Errorf("push throttled: %w", err)
	}

	body, err := json.Marshal(pushRequest{Token: token, From: fromUserID, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordPushSend("error")
		return fmt.Errorf("push gateway request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordPushSend("error")
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}

	metrics.RecordPushSend("ok")
	n.logger.Debug().Str("from", fromUserID).Msg("push delivered")
	return nil
}
