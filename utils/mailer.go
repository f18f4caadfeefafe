package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"intrahub/config"
)

// OutboundMessage is one rendered email handed to the transport. The
// RecipientID is echoed back in the matching SendResult.
type OutboundMessage struct {
	RecipientID uint
	To          string
	ToName      string
	Subject     string
	HTML        string
}

// SendResult reports the outcome for a single message of a bulk send.
type SendResult struct {
	RecipientID  uint
	Success      bool
	ErrorMessage string
}

// Mailer sends email over SMTP. SendBulk reuses a single connection for
// the whole batch; individual message failures are reported in the
// results, and only a failure to establish the connection itself is
// returned as an error.
type Mailer struct {
	cfg config.SMTPConfig
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

func (m *Mailer) dialer() *gomail.Dialer {
	return gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
}

func (m *Mailer) message(msg OutboundMessage) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.cfg.FromEmail, m.cfg.FromName)
	if msg.ToName != "" {
		gm.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		gm.SetHeader("To", msg.To)
	}
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.HTML)
	return gm
}

// Send delivers a single message, dialing a fresh connection.
func (m *Mailer) Send(msg OutboundMessage) error {
	if err := m.dialer().DialAndSend(m.message(msg)); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", msg.To, err)
	}
	return nil
}

// SendBulk delivers a batch of messages over one SMTP connection.
func (m *Mailer) SendBulk(msgs []OutboundMessage) ([]SendResult, error) {
	sender, err := m.dialer().Dial()
	if err != nil {
		return nil, fmt.Errorf("smtp dial failed: %w", err)
	}
	defer sender.Close()

	results := make([]SendResult, 0, len(msgs))
	for _, msg := range msgs {
		res := SendResult{RecipientID: msg.RecipientID, Success: true}
		if err := gomail.Send(sender, m.message(msg)); err != nil {
			res.Success = false
			res.ErrorMessage = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}
