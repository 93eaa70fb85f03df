package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	HeaderTopic     = "X-Civreg-Topic"
	HeaderMessageID = "X-Civreg-Message-Id"
	HeaderTimestamp = "X-Civreg-Timestamp"
	HeaderSignature = "X-Civreg-Signature"

	signatureScheme = "v1="
)

var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookPublisher delivers notification and confirmation messages to a
// collaborator over HTTP. The receiver answers 2xx once the message is taken;
// anything else is returned as an error and the row stays in the outbox.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

var _ ports.EventPublisher = (*WebhookPublisher)(nil)

type WebhookOption func(*WebhookPublisher)

func WithWebhookClient(c *http.Client) WebhookOption {
	return func(p *WebhookPublisher) {
		if c != nil {
			p.client = c
		}
	}
}

func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(p *WebhookPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewWebhookPublisher(url, secret string, timeout time.Duration, opts ...WebhookOption) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	p := &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish signs "<unix seconds>.<body>" so a captured request cannot be
// replayed under a new timestamp. Receivers deduplicate on the message id.
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.MessageID, err)
	}
	ts := strconv.FormatInt(p.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderMessageID, event.MessageID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, signatureScheme+Sign(p.secret, ts, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", topic, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("deliver %s: collaborator answered %d", topic, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of timestamp + "." + body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery's signature and rejects timestamps older than
// maxAge. Collaborators written in Go can use it as is.
func Verify(secret []byte, header http.Header, body []byte, maxAge time.Duration, now time.Time) error {
	ts := header.Get(HeaderTimestamp)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if maxAge > 0 && now.Sub(time.Unix(sec, 0)) > maxAge {
		return fmt.Errorf("%w: timestamp too old", ErrBadSignature)
	}
	got, ok := strings.CutPrefix(header.Get(HeaderSignature), signatureScheme)
	if !ok {
		return ErrBadSignature
	}
	want := Sign(secret, ts, body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrBadSignature
	}
	return nil
}
