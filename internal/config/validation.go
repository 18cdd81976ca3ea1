package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate checks the semantic constraints of a defaulted configuration.
func Validate(cfg *Config) error {
	var errs []error

	p := cfg.Project
	for _, seg := range strings.Split(p.Namespace, ".") {
		if !segmentPattern.MatchString(seg) {
			errs = append(errs, fmt.Errorf("project.namespace: invalid package segment %q", seg))
		}
	}
	if !segmentPattern.MatchString(p.Suffix) {
		errs = append(errs, fmt.Errorf("project.suffix: invalid package segment %q", p.Suffix))
	}
	if !segmentPattern.MatchString(p.EntryConstant) {
		errs = append(errs, fmt.Errorf("project.entry_constant: invalid identifier %q", p.EntryConstant))
	}
	if strings.TrimSpace(p.NameKey) == "" {
		errs = append(errs, errors.New("project.name_key must not be empty"))
	}

	if len(cfg.Build.Command) == 0 || strings.TrimSpace(cfg.Build.Command[0]) == "" {
		errs = append(errs, errors.New("build.command must not be empty"))
	}
	errs = append(errs,
		validateDuration("build.timeout", cfg.Build.Timeout),
		validateDuration("content.retry_initial_delay", cfg.Content.RetryInitialDelay),
		validateDuration("content.retry_max_delay", cfg.Content.RetryMaxDelay),
		validateDuration("maintenance.interval", cfg.Maintenance.Interval),
		validateDuration("maintenance.max_age", cfg.Maintenance.MaxAge),
	)
	if cfg.Content.MaxRetries < 0 {
		errs = append(errs, errors.New("content.max_retries cannot be negative"))
	}

	if s3 := cfg.Output.S3; s3 != nil {
		if s3.Bucket == "" {
			errs = append(errs, errors.New("output.s3.bucket is required when s3 is configured"))
		}
		if s3.Region == "" {
			errs = append(errs, errors.New("output.s3.region is required when s3 is configured"))
		}
		if (s3.AccessKeyID == "") != (s3.SecretAccessKey == "") {
			errs = append(errs, errors.New("output.s3 access key id and secret must be set together"))
		}
	}
	if n := cfg.Events.NATS; n != nil && n.URL == "" {
		errs = append(errs, errors.New("events.nats.url is required when nats is configured"))
	}

	return errors.Join(errs...)
}

func validateDuration(field, raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive", field)
	}
	return nil
}
