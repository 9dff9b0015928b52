package mailer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPMailer POSTs invitation emails as JSON to a delivery endpoint. When a
// secret is configured, each request carries an HMAC-SHA256 signature of the
// body so the endpoint can verify the sender.
type HTTPMailer struct {
	client *http.Client
	url    string
	secret []byte
}

// NewHTTPMailer constructs a mailer targeting url.
func NewHTTPMailer(url, secret string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &HTTPMailer{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
	if secret != "" {
		m.secret = []byte(secret)
	}
	return m
}

// SendInvitation delivers one invitation email.
func (m *HTTPMailer) SendInvitation(ctx context.Context, email InvitationEmail) error {
	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal invitation email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mailer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(m.secret) > 0 {
		req.Header.Set("X-Mailer-Signature", m.sign(body))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver invitation email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mailer endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (m *HTTPMailer) sign(payload []byte) string {
	hasher := hmac.New(sha256.New, m.secret)
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}
