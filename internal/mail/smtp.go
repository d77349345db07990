package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/JaimeStill/tally/internal/domain"
)

// Send composes msg and submits it over SMTP within the configured send
// timeout. Network failures are transient.
func (c *Client) Send(ctx context.Context, msg Outgoing) (Delivery, error) {
	if timeout := c.cfg.SendTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	raw, id, err := Compose(c.cfg.From, msg, now)
	if err != nil {
		return Delivery{}, err
	}

	client, err := c.dialSMTP(ctx)
	if err != nil {
		return Delivery{}, domain.Transient("smtp connect", err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if c.cfg.Username != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return Delivery{}, fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.SendMail(c.cfg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		if ctx.Err() != nil {
			return Delivery{}, domain.Transient("smtp send", ctx.Err())
		}
		return Delivery{}, domain.Transient("smtp send", err)
	}
	if err := client.Quit(); err != nil {
		c.logger.Warn("smtp quit failed", "error", err)
	}

	c.logger.Info("message sent", "to", msg.To, "message_id", id)
	return Delivery{MessageID: id, SentAt: now}, nil
}

func (c *Client) dialSMTP(ctx context.Context) (*smtp.Client, error) {
	host, _, err := net.SplitHostPort(c.cfg.SMTPAddr)
	if err != nil {
		return nil, fmt.Errorf("smtp addr %q: %w", c.cfg.SMTPAddr, err)
	}
	tlsConfig := &tls.Config{ServerName: host}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.SMTPAddr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	switch c.cfg.SMTPSecurity {
	case SecurityTLS:
		return smtp.NewClient(tls.Client(conn, tlsConfig)), nil
	case SecurityStartTLS:
		client, err := smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return client, nil
	}
	return smtp.NewClient(conn), nil
}
