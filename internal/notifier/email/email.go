package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/smallbiznis/enrollpay/internal/notifier/domain"
)

// Config carries the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Provider sends fulfillment notices over plain SMTP. The payer id is used
// as the recipient address.
type Provider struct {
	cfg Config
}

func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return "email" }

func (p *Provider) Send(ctx context.Context, msg domain.Message) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	body := buildBody(p.cfg.From, msg)
	return smtp.SendMail(addr, auth, p.cfg.From, []string{msg.PayerID}, body)
}

func buildBody(from string, msg domain.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.PayerID)
	fmt.Fprintf(&b, "Subject: Enrollment confirmed (%s)\r\n", msg.Reference)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Your payment of %d %s was verified and enrollment %s is now active.\r\n",
		msg.Amount, msg.Currency, msg.SubjectID)
	fmt.Fprintf(&b, "Order reference: %s\r\n", msg.Reference)
	return []byte(b.String())
}
