package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// SchedulerConfig tunes the task and mail loops, outbound delivery, and
// the per-task lock.
type SchedulerConfig struct {
	TaskInterval       string `toml:"task_interval"`
	MailInterval       string `toml:"mail_interval"`
	AutoReaggregate    *bool  `toml:"auto_reaggregate"`
	DispatchMaxRetries int    `toml:"dispatch_max_retries"`
	DispatchBackoff    string `toml:"dispatch_backoff"`
	DispatchWorkers    int    `toml:"dispatch_workers"`
	LockBackend        string `toml:"lock_backend"`
	LockTTL            string `toml:"lock_ttl"`
}

// TaskIntervalDuration returns TaskInterval as a time.Duration.
func (c *SchedulerConfig) TaskIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.TaskInterval)
	return d
}

// MailIntervalDuration returns MailInterval as a time.Duration.
func (c *SchedulerConfig) MailIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.MailInterval)
	return d
}

// DispatchBackoffDuration returns DispatchBackoff as a time.Duration.
func (c *SchedulerConfig) DispatchBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.DispatchBackoff)
	return d
}

// LockTTLDuration returns LockTTL as a time.Duration.
func (c *SchedulerConfig) LockTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.LockTTL)
	return d
}

// Reaggregate reports whether late replies trigger automatic reaggregation.
func (c *SchedulerConfig) Reaggregate() bool {
	return c.AutoReaggregate == nil || *c.AutoReaggregate
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *SchedulerConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. AutoReaggregate applies
// whenever the overlay sets it, including to false.
func (c *SchedulerConfig) Merge(overlay *SchedulerConfig) {
	if overlay.TaskInterval != "" {
		c.TaskInterval = overlay.TaskInterval
	}
	if overlay.MailInterval != "" {
		c.MailInterval = overlay.MailInterval
	}
	if overlay.AutoReaggregate != nil {
		c.AutoReaggregate = overlay.AutoReaggregate
	}
	if overlay.DispatchMaxRetries != 0 {
		c.DispatchMaxRetries = overlay.DispatchMaxRetries
	}
	if overlay.DispatchBackoff != "" {
		c.DispatchBackoff = overlay.DispatchBackoff
	}
	if overlay.DispatchWorkers != 0 {
		c.DispatchWorkers = overlay.DispatchWorkers
	}
	if overlay.LockBackend != "" {
		c.LockBackend = overlay.LockBackend
	}
	if overlay.LockTTL != "" {
		c.LockTTL = overlay.LockTTL
	}
}

func (c *SchedulerConfig) loadDefaults() {
	if c.TaskInterval == "" {
		c.TaskInterval = "30s"
	}
	if c.MailInterval == "" {
		c.MailInterval = "30s"
	}
	if c.DispatchMaxRetries == 0 {
		c.DispatchMaxRetries = 3
	}
	if c.DispatchBackoff == "" {
		c.DispatchBackoff = "2s"
	}
	if c.DispatchWorkers == 0 {
		c.DispatchWorkers = 4
	}
	if c.LockBackend == "" {
		c.LockBackend = LockLocal
	}
	if c.LockTTL == "" {
		c.LockTTL = "10m"
	}
}

func (c *SchedulerConfig) loadEnv() {
	if v := os.Getenv("TALLY_SCHEDULER_TASK_INTERVAL"); v != "" {
		c.TaskInterval = v
	}
	if v := os.Getenv("TALLY_SCHEDULER_MAIL_INTERVAL"); v != "" {
		c.MailInterval = v
	}
	if v := os.Getenv("TALLY_SCHEDULER_AUTO_REAGGREGATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoReaggregate = &b
		}
	}
	if v := os.Getenv("TALLY_SCHEDULER_DISPATCH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchMaxRetries = n
		}
	}
	if v := os.Getenv("TALLY_SCHEDULER_DISPATCH_BACKOFF"); v != "" {
		c.DispatchBackoff = v
	}
	if v := os.Getenv("TALLY_SCHEDULER_DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DispatchWorkers = n
		}
	}
	if v := os.Getenv("TALLY_SCHEDULER_LOCK_BACKEND"); v != "" {
		c.LockBackend = v
	}
	if v := os.Getenv("TALLY_SCHEDULER_LOCK_TTL"); v != "" {
		c.LockTTL = v
	}
}

func (c *SchedulerConfig) validate() error {
	for name, v := range map[string]string{
		"task_interval":    c.TaskInterval,
		"mail_interval":    c.MailInterval,
		"dispatch_backoff": c.DispatchBackoff,
		"lock_ttl":         c.LockTTL,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 && name != "dispatch_backoff" {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.DispatchMaxRetries < 1 {
		return fmt.Errorf("dispatch_max_retries must be at least 1")
	}
	switch c.LockBackend {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown lock_backend %q", c.LockBackend)
	}
	return nil
}
