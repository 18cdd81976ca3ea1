package git

import (
	"strings"

	"git.home.luguber.info/inful/webapk/internal/errors"
)

// ClassifyGitError translates go-git errors into ClassifiedErrors. Only
// network and rate limit failures are marked retryable.
func ClassifyGitError(err error, op string, url string) error {
	if err == nil {
		return nil
	}

	// Already classified
	if _, ok := errors.AsClassified(err); ok {
		return err
	}

	l := strings.ToLower(err.Error())

	builder := errors.GitError("git "+op+" failed").
		WithCause(err).
		WithContext("op", op).
		WithContext("url", url)

	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "not authorized") || strings.Contains(l, "could not read username") || strings.Contains(l, "invalid credentials"):
		builder.WithContext("reason", "auth")
	case strings.Contains(l, "repository not found") || strings.Contains(l, "not found") || strings.Contains(l, "does not exist"):
		builder.WithContext("reason", "not_found")
	case strings.Contains(l, "unsupported protocol") || strings.Contains(l, "protocol not supported"):
		builder.WithContext("reason", "protocol")
	case strings.Contains(l, "rate limit") || strings.Contains(l, "too many requests"):
		builder.WithContext("reason", "rate_limit").Retryable()
	case strings.Contains(l, "remote hung up") || strings.Contains(l, "connection reset") || strings.Contains(l, "timeout") || strings.Contains(l, "no route to host") || strings.Contains(l, "connection refused"):
		builder.WithContext("reason", "network").Retryable()
	}

	return builder.Build()
}

// isRetryable reports whether a sync failure is worth another attempt.
func isRetryable(err error) bool {
	ce, ok := errors.AsClassified(err)
	return ok && ce.CanRetry()
}
