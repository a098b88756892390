package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateDemo(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if c.IsProduction() {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Auth.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("AUTH_JWT_SECRET is required outside development")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	if c.Log.SamplingRate < 0 || c.Log.SamplingRate > 1 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0 || c.Log.ErrorSamplingRate > 1 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if rl := c.RateLimit; rl.Enabled {
		if rl.RPS <= 0 || rl.Burst < 1 {
			return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive, got %v/%d", rl.RPS, rl.Burst)
		}
		if rl.SubmissionLimit < 1 || rl.SubmissionWindow <= 0 {
			return errors.New("RATE_LIMIT_SUBMISSIONS and RATE_LIMIT_SUBMISSION_WINDOW must be positive")
		}
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	a := c.Analysis
	if a.MaxAttempts < 1 {
		return fmt.Errorf("ANALYSIS_MAX_ATTEMPTS must be at least 1, got %d", a.MaxAttempts)
	}
	if a.Backoff < 0 {
		return fmt.Errorf("ANALYSIS_BACKOFF must not be negative, got %v", a.Backoff)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive, got %v", a.Timeout)
	}
	if a.EnqueueDelay < 0 {
		return fmt.Errorf("ANALYSIS_ENQUEUE_DELAY must not be negative, got %v", a.EnqueueDelay)
	}
	if a.Concurrency < 1 {
		return fmt.Errorf("ANALYSIS_CONCURRENCY must be at least 1, got %d", a.Concurrency)
	}
	for _, q := range []string{"high", "normal", "low"} {
		if a.QueueWeights[q] < 1 {
			return fmt.Errorf("ANALYSIS_QUEUE_WEIGHTS must give queue %q a positive weight", q)
		}
	}

	if c.Schedule.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for kind, spec := range c.Schedule.Specs {
			if _, err := parser.Parse(spec); err != nil {
				return fmt.Errorf("invalid cron spec for %s: %w", kind, err)
			}
		}
	}
	return nil
}

func (c *Config) validateDemo() error {
	if !c.Demo.Enabled {
		return nil
	}
	if c.IsProduction() {
		return errors.New("DEMO_MODE must not be enabled in production")
	}
	if _, err := uuid.Parse(c.Demo.AgencyID); err != nil {
		return fmt.Errorf("DEMO_AGENCY_ID must name the demo agency: %w", err)
	}
	return nil
}

func (c *Config) validateArchive() error {
	switch c.Archive.Backend {
	case "", "none":
		return nil
	case "s3":
		if c.Archive.Bucket == "" || c.Archive.Region == "" {
			return errors.New("ARCHIVE_BUCKET and ARCHIVE_REGION are required for the s3 archive")
		}
	case "minio":
		if c.Archive.Endpoint == "" || c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return errors.New("ARCHIVE_ENDPOINT, ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required for the minio archive")
		}
	default:
		return fmt.Errorf("invalid ARCHIVE_BACKEND: %s (must be s3, minio or none)", c.Archive.Backend)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("AUTH_JWT_SECRET must be at least 32 characters in production")
	}
	if c.App.Debug {
		return errors.New("APP_DEBUG must be false in production")
	}
	if strings.EqualFold(c.Log.Level, "debug") {
		return errors.New("log level should not be 'debug' in production")
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			return errors.New("CORS wildcard origin is not allowed in production")
		}
	}
	return nil
}
