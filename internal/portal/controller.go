package portal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kebiao-app/timetable-server/internal/config"
)

// Login page element locations.
const (
	captchaImageSelector = `img[alt="logo"]`
	usernameFieldID      = "userName"
	passwordFieldID      = "password"
	captchaFieldID       = "captcha"
	submitButtonClass    = "index-submit-36Dah"
)

// URL fragments that mark login progress.
const (
	ticketFragment    = "ticket="
	landingFragment   = "Default.aspx"
	ssoBounceFragment = "login_CDSSO.aspx?ticket="
)

// Credentials are the portal login inputs. They live for one attempt and
// are never persisted or logged.
type Credentials struct {
	Username    string
	Password    string
	CaptchaText string
}

// Controller drives the portal login and timetable flows over a Driver.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewController creates a portal controller.
func NewController(cfg *config.Config, logger *slog.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger}
}

// CaptureCaptcha opens the login page and returns the CAPTCHA image as the
// portal serves it, a base64 data URI. The page is left on the login form,
// ready for Login with the transcribed text.
func (c *Controller) CaptureCaptcha(ctx context.Context, d Driver) (string, error) {
	if err := d.Navigate(ctx, c.cfg.PortalLoginURL); err != nil {
		return "", fmt.Errorf("%w: open login page: %v", ErrNavigationFailure, err)
	}

	img, err := d.WaitElement(ctx, CSS(captchaImageSelector), c.cfg.CaptchaWaitTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: captcha image: %v", ErrNavigationFailure, err)
	}
	src, err := img.Attribute("src")
	if err != nil {
		return "", fmt.Errorf("%w: captcha src: %v", ErrNavigationFailure, err)
	}
	if !strings.HasPrefix(src, "data:image") {
		return "", ErrCaptchaUnavailable
	}
	return src, nil
}

// CurrentCaptcha re-reads the CAPTCHA image already rendered on the login
// form, without navigating. Used to echo the image back after a rejected
// attempt.
func (c *Controller) CurrentCaptcha(ctx context.Context, d Driver) (string, error) {
	img, err := d.WaitElement(ctx, CSS(captchaImageSelector), c.cfg.TableWaitTimeout)
	if err != nil {
		return "", err
	}
	return img.Attribute("src")
}

// OpenLogin navigates to the login form and waits for it to render.
// Used by one-shot flows that already hold a transcribed CAPTCHA and
// skip the image capture.
func (c *Controller) OpenLogin(ctx context.Context, d Driver) error {
	if err := d.Navigate(ctx, c.cfg.PortalLoginURL); err != nil {
		return fmt.Errorf("%w: open login page: %v", ErrNavigationFailure, err)
	}
	if _, err := d.WaitElement(ctx, ID(usernameFieldID), c.cfg.NavWaitTimeout); err != nil {
		return fmt.Errorf("%w: login form: %v", ErrNavigationFailure, err)
	}
	return nil
}

// Login fills the form, submits, and waits for the post-login redirect.
//
// A missed redirect means the portal rejected the captcha or credentials:
// a RejectionError (matching ErrCaptchaRejected) is returned and the page
// stays on the login form for another attempt. Some logins bounce through
// an SSO ticket URL first; that intermediate state gets its own bounded
// wait.
func (c *Controller) Login(ctx context.Context, d Driver, creds Credentials) error {
	fields := []struct{ id, value string }{
		{usernameFieldID, creds.Username},
		{passwordFieldID, creds.Password},
		{captchaFieldID, creds.CaptchaText},
	}
	for _, f := range fields {
		el, err := d.WaitElement(ctx, ID(f.id), c.cfg.NavWaitTimeout)
		if err != nil {
			return fmt.Errorf("%w: login field %s: %v", ErrNavigationFailure, f.id, err)
		}
		if err := el.Fill(f.value); err != nil {
			return fmt.Errorf("%w: fill %s: %v", ErrNavigationFailure, f.id, err)
		}
	}

	submit, err := d.WaitElement(ctx, Class(submitButtonClass), c.cfg.NavWaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: submit button: %v", ErrNavigationFailure, err)
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("%w: click submit: %v", ErrNavigationFailure, err)
	}

	err = d.WaitURL(ctx, c.cfg.LoginWaitTimeout, func(url string) bool {
		return strings.Contains(url, ticketFragment) || strings.Contains(url, landingFragment)
	})
	if err != nil {
		rejection := &RejectionError{}
		if text, present, alertErr := d.AcceptAlert(); alertErr == nil && present {
			c.logger.Debug("login alert dismissed", "text", text)
			rejection.AlertText = text
		}
		return rejection
	}

	url, err := d.CurrentURL()
	if err != nil {
		return fmt.Errorf("%w: read url after submit: %v", ErrNavigationFailure, err)
	}
	if strings.Contains(url, ssoBounceFragment) {
		err = d.WaitURL(ctx, c.cfg.LoginWaitTimeout, func(url string) bool {
			return strings.Contains(url, landingFragment)
		})
		if err != nil {
			return &RejectionError{}
		}
	}
	return nil
}
