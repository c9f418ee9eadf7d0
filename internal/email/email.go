package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL           string
	Username          string
	Password          string
	OTPTemplateID     int
	WelcomeTemplateID int
	ResetTemplateID   int
}

// Client sends transactional mail through Listmonk's /api/tx endpoint.
// With no BaseURL configured it only logs what would have been sent.
type Client struct {
	config Config
	http   *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type txRequest struct {
	SubscriberEmail string            `json:"subscriber_email"`
	TemplateID      int               `json:"template_id"`
	Data            map[string]string `json:"data"`
	ContentType     string            `json:"content_type"`
}

func (c *Client) SendOTP(ctx context.Context, toEmail, toName, code string) error {
	return c.send(ctx, "otp", toEmail, c.config.OTPTemplateID, map[string]string{
		"name": toName,
		"otp":  code,
	})
}

func (c *Client) SendWelcome(ctx context.Context, toEmail, toName string) error {
	return c.send(ctx, "welcome", toEmail, c.config.WelcomeTemplateID, map[string]string{
		"name": toName,
	})
}

func (c *Client) SendPasswordReset(ctx context.Context, toEmail, toName, code string) error {
	return c.send(ctx, "password_reset", toEmail, c.config.ResetTemplateID, map[string]string{
		"name": toName,
		"otp":  code,
	})
}

func (c *Client) send(ctx context.Context, kind, toEmail string, templateID int, data map[string]string) error {
	if c.config.BaseURL == "" {
		c.logger.Info("email not configured, skipping send",
			zap.String("kind", kind),
			zap.String("to", toEmail),
		)
		return nil
	}

	jsonBody, err := json.Marshal(txRequest{
		SubscriberEmail: toEmail,
		TemplateID:      templateID,
		Data:            data,
		ContentType:     "html",
	})
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/tx", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listmonk returned status %d", resp.StatusCode)
	}
	return nil
}
