// Package webhook notifies job owners when a batch job settles. Deliveries are
// HMAC-signed JSON POSTs retried with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names sent in HeaderEvent.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

const (
	HeaderSignature = "X-Imagekit-Signature"
	HeaderTimestamp = "X-Imagekit-Timestamp"
	HeaderEvent     = "X-Imagekit-Event"
	HeaderDelivery  = "X-Imagekit-Delivery"
)

var ErrDeliveryFailed = errors.New("webhook delivery failed")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient *http.Client
	secret     string
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(1, cfg.MaxAttempts),
		backoff:    backoff,
		maxBackoff: max(backoff, cfg.MaxBackoff),
		now:        time.Now,
	}
}

// delivery is one signed message. Every attempt resends the same bytes and headers
// so receivers can dedupe on HeaderDelivery.
type delivery struct {
	id        string
	endpoint  string
	event     string
	timestamp string
	body      []byte
}

// Send posts payload as JSON to endpoint. An empty endpoint means the job has no
// subscriber and is not an error.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	ts := strconv.FormatInt(c.now().UTC().Unix(), 10)
	return c.deliver(ctx, delivery{
		id:        uuid.NewString(),
		endpoint:  endpoint,
		event:     event,
		timestamp: ts,
		body:      body,
	})
}

func (c *Client) deliver(ctx context.Context, d delivery) error {
	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		retry, err := c.attempt(ctx, d)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == c.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
	}
	return fmt.Errorf("%w: event=%s delivery=%s: %v", ErrDeliveryFailed, d.event, d.id, lastErr)
}

// attempt reports whether a failed POST is worth retrying. Client errors other than
// 408 and 429 will fail the same way again.
func (c *Client) attempt(ctx context.Context, d delivery) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(d.body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "imagekit-webhook/1")
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderDelivery, d.id)
	req.Header.Set(HeaderTimestamp, d.timestamp)
	req.Header.Set(HeaderSignature, Sign(c.secret, d.timestamp, d.body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return false, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return true, fmt.Errorf("receiver returned status=%d", code)
	default:
		return false, fmt.Errorf("receiver rejected delivery status=%d", code)
	}
}

// Sign returns the HeaderSignature value for body: "sha256=" + hex(HMAC(secret, timestamp "." body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
