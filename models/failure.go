package models

// FailureKind is the closed taxonomy of scrape failures.
type FailureKind string

const (
	FailCookieNotAccepted  FailureKind = "cookie_not_accepted"
	FailNoListingsFound    FailureKind = "no_listings_found"
	FailBotDetected        FailureKind = "bot_detected"
	FailBrowserCrashed     FailureKind = "browser_crashed"
	FailTimeoutAtPageLoad  FailureKind = "timeout_at_page_load"
	FailNavigationError    FailureKind = "navigation_error"
	FailSessionClosed      FailureKind = "session_closed_unexpectedly"
	FailMemoryLimitReached FailureKind = "memory_limit_exceeded"
	FailConnectionError    FailureKind = "connection_error"
	FailUnknown            FailureKind = "unknown_error"
)

// Retriable reports whether a task failing with this kind may be retried.
func (k FailureKind) Retriable() bool {
	switch k {
	case FailConnectionError, FailTimeoutAtPageLoad, FailNavigationError,
		FailBrowserCrashed, FailSessionClosed, FailMemoryLimitReached:
		return true
	}
	return false
}
