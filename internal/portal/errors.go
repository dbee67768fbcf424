// Package portal drives the university portal through a narrow browser
// capability: the CAPTCHA-protected CAS login and the week-timetable view
// behind it. All flows run against the Driver interface so they can be
// tested without a real browser.
package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptchaRejected is the soft login outcome: the portal did not
	// redirect after submit, which means the captcha or the credentials
	// were wrong. The session stays valid for another attempt.
	ErrCaptchaRejected = errors.New("captcha or credentials rejected")

	// ErrCaptchaUnavailable means the login page rendered without an
	// inline captcha image.
	ErrCaptchaUnavailable = errors.New("captcha image not available")

	// ErrNavigationFailure means the portal structure was unreachable.
	// Fatal for the current flow; the session is torn down.
	ErrNavigationFailure = errors.New("portal navigation failed")

	// ErrElementWaitTimeout is wrapped by drivers when a bounded element
	// or URL wait elapses.
	ErrElementWaitTimeout = errors.New("timed out waiting for page state")
)

// RejectionError is the concrete form of ErrCaptchaRejected. AlertText
// carries the portal's own message when the login page raised one, so
// callers can surface it instead of a generic prompt.
type RejectionError struct {
	AlertText string
}

func (e *RejectionError) Error() string {
	if e.AlertText != "" {
		return "login rejected: " + e.AlertText
	}
	return "login rejected"
}

// Is matches ErrCaptchaRejected so errors.Is keeps working at call sites
// that only care about the outcome, not the message.
func (e *RejectionError) Is(target error) bool { return target == ErrCaptchaRejected }

// SelectionError reports a failed attempt to drive one of the timetable
// view's selection controls. The sweep treats it as a per-pair skip.
type SelectionError struct {
	Control string
	Cause   error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("set selection %q: %v", e.Control, e.Cause)
}

func (e *SelectionError) Unwrap() error { return e.Cause }

// StepError records why one (semester, week) pair was skipped during the
// sweep. It never escapes the scraper; it exists so skips are logged with
// their reason.
type StepError struct {
	Step  string
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause == nil {
		return e.Step
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }
