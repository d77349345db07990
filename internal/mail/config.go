package mail

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/tally/pkg/formatting"
)

// Connection security modes.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Config holds the mailbox credentials and transport limits.
type Config struct {
	IMAPAddr          string `toml:"imap_addr"`
	IMAPSecurity      string `toml:"imap_security"`
	SMTPAddr          string `toml:"smtp_addr"`
	SMTPSecurity      string `toml:"smtp_security"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	From              string `toml:"from"`
	Mailbox           string `toml:"mailbox"`
	FetchTimeout      string `toml:"fetch_timeout"`
	SendTimeout       string `toml:"send_timeout"`
	DownloadDir       string `toml:"download_dir"`
	MaxAttachmentSize string `toml:"max_attachment_size"`
	MaxMessages       int    `toml:"max_messages"`
	SendAttempts      int    `toml:"send_attempts"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	IMAPAddr          string
	IMAPSecurity      string
	SMTPAddr          string
	SMTPSecurity      string
	Username          string
	Password          string
	From              string
	Mailbox           string
	FetchTimeout      string
	SendTimeout       string
	DownloadDir       string
	MaxAttachmentSize string
	MaxMessages       string
	SendAttempts      string
}

// Enabled reports whether both mail servers are configured.
func (c *Config) Enabled() bool {
	return c.IMAPAddr != "" && c.SMTPAddr != ""
}

// FetchTimeoutDuration returns FetchTimeout as a time.Duration.
func (c *Config) FetchTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.FetchTimeout)
	return d
}

// SendTimeoutDuration returns SendTimeout as a time.Duration.
func (c *Config) SendTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.SendTimeout)
	return d
}

// MaxAttachmentSizeBytes returns MaxAttachmentSize in bytes.
func (c *Config) MaxAttachmentSizeBytes() int64 {
	size, err := formatting.ParseBytes(c.MaxAttachmentSize)
	if err != nil {
		return 25 * 1024 * 1024
	}
	return size
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.IMAPAddr != "" {
		c.IMAPAddr = overlay.IMAPAddr
	}
	if overlay.IMAPSecurity != "" {
		c.IMAPSecurity = overlay.IMAPSecurity
	}
	if overlay.SMTPAddr != "" {
		c.SMTPAddr = overlay.SMTPAddr
	}
	if overlay.SMTPSecurity != "" {
		c.SMTPSecurity = overlay.SMTPSecurity
	}
	if overlay.Username != "" {
		c.Username = overlay.Username
	}
	if overlay.Password != "" {
		c.Password = overlay.Password
	}
	if overlay.From != "" {
		c.From = overlay.From
	}
	if overlay.Mailbox != "" {
		c.Mailbox = overlay.Mailbox
	}
	if overlay.FetchTimeout != "" {
		c.FetchTimeout = overlay.FetchTimeout
	}
	if overlay.SendTimeout != "" {
		c.SendTimeout = overlay.SendTimeout
	}
	if overlay.DownloadDir != "" {
		c.DownloadDir = overlay.DownloadDir
	}
	if overlay.MaxAttachmentSize != "" {
		c.MaxAttachmentSize = overlay.MaxAttachmentSize
	}
	if overlay.MaxMessages != 0 {
		c.MaxMessages = overlay.MaxMessages
	}
	if overlay.SendAttempts != 0 {
		c.SendAttempts = overlay.SendAttempts
	}
}

func (c *Config) loadDefaults() {
	if c.IMAPSecurity == "" {
		c.IMAPSecurity = SecurityTLS
	}
	if c.SMTPSecurity == "" {
		c.SMTPSecurity = SecurityStartTLS
	}
	if c.Mailbox == "" {
		c.Mailbox = "INBOX"
	}
	if c.FetchTimeout == "" {
		c.FetchTimeout = "60s"
	}
	if c.SendTimeout == "" {
		c.SendTimeout = "30s"
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "data/mail"
	}
	if c.MaxAttachmentSize == "" {
		c.MaxAttachmentSize = "25MB"
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 200
	}
	if c.SendAttempts == 0 {
		c.SendAttempts = 2
	}
}

func (c *Config) loadEnv(env *Env) {
	str := func(name string, dst *string) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str(env.IMAPAddr, &c.IMAPAddr)
	str(env.IMAPSecurity, &c.IMAPSecurity)
	str(env.SMTPAddr, &c.SMTPAddr)
	str(env.SMTPSecurity, &c.SMTPSecurity)
	str(env.Username, &c.Username)
	str(env.Password, &c.Password)
	str(env.From, &c.From)
	str(env.Mailbox, &c.Mailbox)
	str(env.FetchTimeout, &c.FetchTimeout)
	str(env.SendTimeout, &c.SendTimeout)
	str(env.DownloadDir, &c.DownloadDir)
	str(env.MaxAttachmentSize, &c.MaxAttachmentSize)
	num(env.MaxMessages, &c.MaxMessages)
	num(env.SendAttempts, &c.SendAttempts)
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.FetchTimeout); err != nil {
		return fmt.Errorf("invalid fetch_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.SendTimeout); err != nil {
		return fmt.Errorf("invalid send_timeout: %w", err)
	}
	if _, err := formatting.ParseBytes(c.MaxAttachmentSize); err != nil {
		return fmt.Errorf("invalid max_attachment_size: %w", err)
	}
	switch c.IMAPSecurity {
	case SecurityTLS, SecurityNone:
	default:
		return fmt.Errorf("invalid imap_security %q", c.IMAPSecurity)
	}
	switch c.SMTPSecurity {
	case SecurityTLS, SecurityStartTLS, SecurityNone:
	default:
		return fmt.Errorf("invalid smtp_security %q", c.SMTPSecurity)
	}
	if c.Enabled() && c.From == "" {
		return fmt.Errorf("from required when mail is enabled")
	}
	return nil
}
