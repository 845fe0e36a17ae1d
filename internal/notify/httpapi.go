package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"time"

	"github.com/propnest/propnest-backend/pkg/config"
)

// HTTPProvider sends mail through a transactional mail HTTP API that accepts
// a JSON message and a bearer API key.
type HTTPProvider struct {
	cfg    config.HTTPMailAPIConfig
	from   mail.Address
	client *http.Client
}

type httpMailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// NewHTTPProvider creates the HTTP API provider.
func NewHTTPProvider(cfg config.HTTPMailAPIConfig, fromAddress, fromName string) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		from:   mail.Address{Name: fromName, Address: fromAddress},
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string {
	return "http-api"
}

func (p *HTTPProvider) fail(code string, status int, err error) error {
	return &DeliveryError{Provider: p.Name(), Code: code, StatusCode: status, Err: err}
}

func (p *HTTPProvider) Send(ctx context.Context, msg *Message) error {
	if p.cfg.Endpoint == "" || p.cfg.APIKey == "" || p.from.Address == "" {
		return p.fail(CodeNotConfigured, 0, ErrNotConfigured)
	}

	payload, err := json.Marshal(httpMailRequest{
		From:    p.from.String(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return p.fail(CodeInvalidMessage, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return p.fail(CodeNotConfigured, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return p.fail(CodeTimeout, 0, err)
		}
		return p.fail(CodeTransport, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	upstream := fmt.Errorf("mail api returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return p.fail(CodeAuthFailed, resp.StatusCode, upstream)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return p.fail(CodeTransport, resp.StatusCode, upstream)
	default:
		return p.fail(CodeRejected, resp.StatusCode, upstream)
	}
}
