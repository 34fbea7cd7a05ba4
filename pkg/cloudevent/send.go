package cloudevent

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
	"time"
)

const (
	// UserAgent is sent with every delivery.
	UserAgent = "opsbot-notifier/1"
	// SignatureHeader carries Sign(body, key) when a signing key is set.
	SignatureHeader = "X-Signature-256"

	contentType = "application/cloudevents+json"
)

// Sender posts CloudEvents in structured mode. The Ce- attribute headers
// are set as well so receivers can route without parsing the body.
type Sender struct {
	client *http.Client
}

// NewSender creates a Sender whose requests time out after timeout.
// Notifications go to a handful of webhook hosts, so the idle pool is small.
func NewSender(timeout time.Duration) *Sender {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Sender{client: &http.Client{Timeout: timeout, Transport: transport}}
}

// SendOptions controls how a CloudEvent is sent.
type SendOptions struct {
	SigningKey string // empty sends the event unsigned
}

// Send posts event to url. Any non-2xx answer is returned as *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, event *CloudEvent, opts SendOptions) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	h := req.Header
	h.Set("Content-Type", contentType)
	h.Set("User-Agent", UserAgent)
	for name, value := range attributeHeaders(event) {
		h.Set(name, value)
	}
	if opts.SigningKey != "" {
		h.Set(SignatureHeader, Sign(body, opts.SigningKey))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", event.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

func attributeHeaders(event *CloudEvent) map[string]string {
	h := map[string]string{
		"Ce-Specversion": event.SpecVersion,
		"Ce-Id":          event.ID,
		"Ce-Type":        event.Type,
		"Ce-Source":      event.Source,
		"Ce-Time":        event.Time.Format(time.RFC3339),
	}
	if event.Subject != "" {
		h["Ce-Subject"] = event.Subject
	}
	return h
}

// Sign returns the hex HMAC-SHA256 of body under key, prefixed "sha256=".
func Sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is Sign(body, key).
func Verify(body []byte, key, signature string) bool {
	return hmac.Equal([]byte(Sign(body, key)), []byte(signature))
}

// HTTPError is a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsClientError reports a 4xx other than 429. Those are not retried.
func IsClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
}
