package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/smtp"
	"time"

	"github.com/mkessels/paybridge/internal/pkg/config"
	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

// MailNotifier delivers review alerts over SMTP to a fixed operations
// mailbox.
type MailNotifier struct {
	host      string
	port      string
	username  string
	password  string
	sender    string
	recipient string
}

func NewMailNotifier(cfg *config.Config) *MailNotifier {
	return &MailNotifier{
		host:      cfg.AlertSMTPHost,
		port:      cfg.AlertSMTPPort,
		username:  cfg.AlertSMTPUsername,
		password:  cfg.AlertSMTPPassword,
		sender:    cfg.AlertSender,
		recipient: cfg.AlertRecipient,
	}
}

func (n *MailNotifier) ManualReview(ctx context.Context, event webhook.PaymentEvent, reason string) error {
	subject := fmt.Sprintf("Manual review needed for payment %s", event.PaymentID)
	return n.send(ctx, subject, event, reason)
}

func (n *MailNotifier) DeadLetter(ctx context.Context, event webhook.PaymentEvent, attempt int) error {
	subject := fmt.Sprintf("Payment %s dead-lettered after %d attempts", event.PaymentID, attempt)
	reason := fmt.Sprintf("no order record appeared for reference %q within the retry budget", event.OrderRef)
	return n.send(ctx, subject, event, reason)
}

func (n *MailNotifier) send(_ context.Context, subject string, event webhook.PaymentEvent, reason string) error {
	eventJSON, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		eventJSON = []byte(fmt.Sprintf("%+v", event))
	}

	body := fmt.Sprintf("Reason: %s\n\nPayment event:\n%s\n\nTimestamp: %s\n",
		reason, eventJSON, time.Now().Format(time.RFC3339))

	var auth smtp.Auth
	if n.username != "" && n.password != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%s", n.host, n.port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", n.sender, n.recipient, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, n.sender, []string{n.recipient}, msg); err != nil {
		log.Printf("SMTP send error for payment %s: %v", event.PaymentID, err)
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	return nil
}
