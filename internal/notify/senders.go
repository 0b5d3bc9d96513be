package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"go.uber.org/zap"
)

// PushSender delivers a push notification to a set of device tokens.
// Implementations are external collaborators; failures are logged by
// the caller and never affect the in-app broadcast.
type PushSender interface {
	SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// EmailSender delivers a notification email.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient, subject, body string) error
}

// FCMSender posts to the Firebase Cloud Messaging HTTP endpoint.
type FCMSender struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

func NewFCMSender(endpoint, serverKey string) *FCMSender {
	return &FCMSender{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

func (s *FCMSender) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	for _, token := range tokens {
		payload, err := json.Marshal(fcmMessage{
			To:           token,
			Notification: fcmNotification{Title: title, Body: body},
			Data:         data,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "key="+s.serverKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("fcm returned status %d", resp.StatusCode)
		}
	}

	return nil
}

// SMTPSender sends plain-text notification emails.
type SMTPSender struct {
	address string
	from    string
	auth    smtp.Auth
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPSender{
		address: fmt.Sprintf("%s:%d", host, port),
		from:    from,
		auth:    auth,
	}
}

func (s *SMTPSender) SendEmail(_ context.Context, recipient, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.from, recipient, subject, body)

	return smtp.SendMail(s.address, s.auth, s.from, []string{recipient}, []byte(message))
}

// NopSender is used when a side channel is not configured. It logs the
// skipped delivery and succeeds.
type NopSender struct {
	logger *zap.Logger
}

func NewNopSender(logger *zap.Logger) *NopSender {
	return &NopSender{logger: logger}
}

func (s *NopSender) SendPush(_ context.Context, tokens []string, title, _ string, _ map[string]string) error {
	s.logger.Debug("push delivery skipped, sender not configured",
		zap.Int("tokens", len(tokens)),
		zap.String("title", title))
	return nil
}

func (s *NopSender) SendEmail(_ context.Context, recipient, subject, _ string) error {
	s.logger.Debug("email delivery skipped, sender not configured",
		zap.String("recipient", recipient),
		zap.String("subject", subject))
	return nil
}
