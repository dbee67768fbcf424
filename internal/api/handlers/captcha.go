// Package handlers provides HTTP handlers for the timetable service API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kebiao-app/timetable-server/internal/browser"
	"github.com/kebiao-app/timetable-server/internal/config"
	"github.com/kebiao-app/timetable-server/internal/memwatch"
	"github.com/kebiao-app/timetable-server/internal/models"
	"github.com/kebiao-app/timetable-server/internal/portal"
	"github.com/kebiao-app/timetable-server/internal/session"
)

// Client-facing messages. The mobile client displays these verbatim, so
// they stay in the portal's language.
const (
	msgMemoryOverloaded  = "服务器内存不足，请稍后再试"
	msgPoolExhausted     = "暂无可用浏览器，请稍后再试"
	msgCaptchaMissing    = "未能获取验证码图片"
	msgInvalidSession    = "无效的 session_id"
	msgSessionBusy       = "会话正在处理中，请稍后再试"
	msgCaptchaPrompt     = "请手动输入验证码"
	msgCaptchaRetry      = "验证码错误或过期，请手动输入"
	msgCaptchaStale      = "验证码可能已过期，请刷新并重试"
	msgInvalidSemester   = "无效的 sem_id"
	msgCredentialsNeeded = "会话已失效，请提供用户名、密码与最新验证码"
)

// CaptchaHandler issues login sessions: it checks a browser out of the
// pool, opens the login form and returns the CAPTCHA image bound to a
// fresh session token.
type CaptchaHandler struct {
	pool     *browser.Pool
	sessions *session.Registry
	portal   *portal.Controller
	mem      *memwatch.Monitor
	cfg      *config.Config
	logger   *slog.Logger
}

// NewCaptchaHandler creates a captcha handler.
func NewCaptchaHandler(
	pool *browser.Pool,
	sessions *session.Registry,
	ctrl *portal.Controller,
	mem *memwatch.Monitor,
	cfg *config.Config,
	logger *slog.Logger,
) *CaptchaHandler {
	return &CaptchaHandler{
		pool:     pool,
		sessions: sessions,
		portal:   ctrl,
		mem:      mem,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle begins a session. The browser stays bound to the returned token
// until login completes or the session TTL reaper claims it.
func (h *CaptchaHandler) Handle(ctx context.Context) (*models.CaptchaResponse, error) {
	start := time.Now()

	if h.mem.Overloaded() {
		return nil, huma.Error503ServiceUnavailable(msgMemoryOverloaded)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, h.cfg.BrowserAcquireTimeout)
	defer cancel()

	mb, err := h.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, browser.ErrPoolExhausted) {
			h.logger.Warn("captcha request rejected, pool exhausted",
				"timeout", h.cfg.BrowserAcquireTimeout)
			return nil, huma.Error503ServiceUnavailable(msgPoolExhausted)
		}
		h.logger.Error("browser acquire failed", "error", err)
		return nil, huma.Error503ServiceUnavailable("浏览器启动失败: " + err.Error())
	}

	drv, err := browser.NewDriver(mb, h.logger)
	if err != nil {
		h.pool.Discard(mb)
		h.logger.Error("driver creation failed", "browser_id", mb.ID, "error", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	captcha, err := h.portal.CaptureCaptcha(ctx, drv)
	if err != nil {
		h.pool.Release(mb)
		if errors.Is(err, portal.ErrCaptchaUnavailable) {
			return nil, huma.Error400BadRequest(msgCaptchaMissing)
		}
		h.logger.Warn("captcha capture failed", "browser_id", mb.ID, "error", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sess, err := h.sessions.Begin(mb, drv)
	if err != nil {
		h.pool.Release(mb)
		h.logger.Error("session begin failed", "error", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	stats := h.pool.Stats()
	h.logger.Info("captcha issued",
		"browser_id", mb.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"pool_available", stats.Available,
		"pool_in_use", stats.InUse,
	)

	return &models.CaptchaResponse{
		SessionID:     sess.Token,
		CaptchaBase64: captcha,
	}, nil
}
