package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"otodom-stats/browser"
	"otodom-stats/models"
)

var (
	ErrBotDetected = errors.New("bot detection page served")
	ErrNoFirstPage = errors.New("first results page could not be loaded")
)

// ScrapeError is a failure whose kind is already known at the point it
// was raised. Classify trusts it over any heuristic.
type ScrapeError struct {
	Kind models.FailureKind
	Err  error
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind models.FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &ScrapeError{Kind: kind, Err: err}
}

// engine error fragments, checked in order
var messageRules = []struct {
	kind      models.FailureKind
	fragments []string
}{
	{models.FailMemoryLimitReached, []string{"out of memory", "memory limit"}},
	{models.FailBrowserCrashed, []string{"target crashed", "page crashed", "browser has disconnected", "chrome failed to start", "exec: "}},
	{models.FailSessionClosed, []string{"target closed", "session closed", "websocket", "use of closed network connection", "context canceled"}},
	{models.FailTimeoutAtPageLoad, []string{"deadline exceeded", "err_timed_out", "timeout", "timed out"}},
	{models.FailConnectionError, []string{"net::err_internet_disconnected", "net::err_connection", "net::err_name_not_resolved", "net::err_address_unreachable", "connection refused", "connection reset", "no such host", "eof"}},
	{models.FailNavigationError, []string{"net::err_", "navigate", "navigation"}},
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) models.FailureKind {
	if err == nil {
		return models.FailUnknown
	}

	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrBotDetected):
		return models.FailBotDetected
	case errors.Is(err, browser.ErrMemoryExceeded):
		return models.FailMemoryLimitReached
	case errors.Is(err, browser.ErrSessionClosed):
		return models.FailSessionClosed
	case errors.Is(err, browser.ErrAllEnginesFailed):
		return models.FailBrowserCrashed
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailTimeoutAtPageLoad
	case errors.Is(err, ErrNoFirstPage):
		return models.FailNavigationError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.FailTimeoutAtPageLoad
		}
		return models.FailConnectionError
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, f := range rule.fragments {
			if strings.Contains(msg, f) {
				return rule.kind
			}
		}
	}
	return models.FailUnknown
}

// IsRetriable reports whether kind may go back to the queue.
func IsRetriable(kind models.FailureKind) bool {
	return kind.Retriable()
}
