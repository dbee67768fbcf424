package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kebiao-app/timetable-server/internal/browser"
	"github.com/kebiao-app/timetable-server/internal/config"
	"github.com/kebiao-app/timetable-server/internal/logging"
	"github.com/kebiao-app/timetable-server/internal/memwatch"
	"github.com/kebiao-app/timetable-server/internal/models"
	"github.com/kebiao-app/timetable-server/internal/portal"
	"github.com/kebiao-app/timetable-server/internal/session"
	"github.com/kebiao-app/timetable-server/internal/timetable"
)

// TimetableHandler completes logins against issued sessions and scrapes
// the week timetable in full, as an overview, or one semester at a time.
type TimetableHandler struct {
	pool     *browser.Pool
	sessions *session.Registry
	portal   *portal.Controller
	mem      *memwatch.Monitor
	cfg      *config.Config
	logger   *slog.Logger
}

// NewTimetableHandler creates a timetable handler.
func NewTimetableHandler(
	pool *browser.Pool,
	sessions *session.Registry,
	ctrl *portal.Controller,
	mem *memwatch.Monitor,
	cfg *config.Config,
	logger *slog.Logger,
) *TimetableHandler {
	return &TimetableHandler{
		pool:     pool,
		sessions: sessions,
		portal:   ctrl,
		mem:      mem,
		cfg:      cfg,
		logger:   logger,
	}
}

// CompleteLogin runs the full flow: login with the transcribed CAPTCHA,
// then sweep every semester and week combination. On success the session
// is consumed and its browser replaced in the pool.
//
// A missing CAPTCHA or a rejected login returns a manual-entry prompt
// with HTTP 200; both leave the session valid for another attempt.
func (h *TimetableHandler) CompleteLogin(ctx context.Context, req *models.TimetableRequest) (*models.TimetableResponse, error) {
	start := time.Now()

	if h.mem.Overloaded() {
		return nil, huma.Error503ServiceUnavailable(msgMemoryOverloaded)
	}

	sess, err := h.sessions.Checkout(req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionInUse) {
			return nil, huma.Error409Conflict(msgSessionBusy)
		}
		return nil, huma.Error400BadRequest(msgInvalidSession)
	}
	// No-op once the session reaches a terminal state below.
	defer h.sessions.Release(req.SessionID)

	if req.Captcha == "" {
		return models.NewCaptchaPrompt(req.SessionID, msgCaptchaPrompt), nil
	}

	ctx = logging.WithPortalUser(ctx, req.Username)
	d := sess.Driver

	if err := h.portal.Login(ctx, d, portal.Credentials{
		Username:    req.Username,
		Password:    req.Password,
		CaptchaText: req.Captcha,
	}); err != nil {
		if errors.Is(err, portal.ErrCaptchaRejected) {
			captcha, imgErr := h.portal.CurrentCaptcha(ctx, d)
			if imgErr != nil {
				h.logger.Debug("captcha re-read failed", "error", imgErr)
			}
			h.sessions.Touch(req.SessionID)
			h.logger.InfoContext(ctx, "login rejected, prompting retry",
				"duration_ms", time.Since(start).Milliseconds())
			return models.NewCaptchaRetry(req.SessionID, captcha, msgCaptchaRetry), nil
		}
		h.abort(req.SessionID, "login", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if err := h.portal.OpenTimetable(ctx, d); err != nil {
		h.abort(req.SessionID, "open timetable", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sems, weeks, err := h.portal.ReadOptions(ctx, d)
	if err != nil {
		h.abort(req.SessionID, "read options", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	semesters, err := h.portal.ScrapeAll(ctx, d, sems, weeks)
	if err != nil {
		h.abort(req.SessionID, "scrape", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	defaultSem, defaultWeek := timetable.PickDefaults(semesters)
	if defaultSem == "" {
		defaultSem = timetable.InferCurrentSemester(time.Now(), optionNames(sems))
		if len(weeks) > 0 {
			defaultWeek = weeks[0].Name
		}
	}

	if err := h.sessions.Consume(req.SessionID); err != nil {
		// Reaper won the race mid-scrape; the result is still good.
		h.logger.Warn("session already terminal after scrape", "error", err)
	}

	h.logger.InfoContext(ctx, "timetable scraped",
		"semesters", len(semesters),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &models.TimetableResponse{
		Semesters:        semesters,
		DefaultSemester:  defaultSem,
		DefaultWeek:      defaultWeek,
		AllSemestersMeta: semesterMeta(sems),
	}, nil
}

// Overview logs in and returns only the semester metadata and defaults,
// leaving all week data for SemesterWeeks calls. The session survives,
// marked authenticated, so those calls skip the CAPTCHA.
func (h *TimetableHandler) Overview(ctx context.Context, req *models.TimetableRequest) (*models.OverviewResponse, error) {
	start := time.Now()

	if h.mem.Overloaded() {
		return nil, huma.Error503ServiceUnavailable(msgMemoryOverloaded)
	}

	sess, err := h.sessions.Checkout(req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionInUse) {
			return nil, huma.Error409Conflict(msgSessionBusy)
		}
		return nil, huma.Error400BadRequest(msgInvalidSession)
	}
	defer h.sessions.Release(req.SessionID)

	if req.Captcha == "" {
		// Unlike CompleteLogin there is no prompt shape here; the
		// overview only makes sense with a transcription in hand.
		return nil, huma.Error400BadRequest(msgCaptchaPrompt)
	}

	ctx = logging.WithPortalUser(ctx, req.Username)
	d := sess.Driver

	if err := h.portal.Login(ctx, d, portal.Credentials{
		Username:    req.Username,
		Password:    req.Password,
		CaptchaText: req.Captcha,
	}); err != nil {
		if errors.Is(err, portal.ErrCaptchaRejected) {
			h.sessions.Touch(req.SessionID)
			return nil, huma.Error401Unauthorized(rejectionDetail(err))
		}
		h.abort(req.SessionID, "login", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if err := h.portal.OpenTimetable(ctx, d); err != nil {
		h.abort(req.SessionID, "open timetable", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sems, weeks, err := h.portal.ReadOptions(ctx, d)
	if err != nil {
		h.abort(req.SessionID, "read options", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	defaultSem := timetable.InferCurrentSemester(time.Now(), optionNames(sems))
	defaultWeek := ""
	if len(weeks) > 0 {
		defaultWeek = weeks[0].Name
	}

	sess.Authenticated = true
	h.sessions.Touch(req.SessionID)

	h.logger.InfoContext(ctx, "overview ready",
		"semesters", len(sems),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &models.OverviewResponse{
		SessionID:        req.SessionID,
		Semesters:        []timetable.Semester{},
		DefaultSemester:  defaultSem,
		DefaultWeek:      defaultWeek,
		AllSemestersMeta: semesterMeta(sems),
		LazyLoading:      true,
	}, nil
}

// SemesterWeeks scrapes the first maxWeeks weeks of one semester. It
// reuses an authenticated session when the token still resolves, and
// falls back to a one-shot fresh login otherwise.
func (h *TimetableHandler) SemesterWeeks(ctx context.Context, req *models.SemesterWeeksRequest) (*models.SemesterWeeksResponse, error) {
	if h.mem.Overloaded() {
		return nil, huma.Error503ServiceUnavailable(msgMemoryOverloaded)
	}

	if req.SessionID != "" {
		sess, err := h.sessions.Checkout(req.SessionID)
		switch {
		case err == nil && sess.Authenticated:
			return h.semesterWeeksReuse(ctx, req, sess)
		case err == nil:
			// Issued but never logged in; a reuse would just time out on
			// the timetable view. Fall back to a fresh login.
			h.sessions.Release(req.SessionID)
		case errors.Is(err, session.ErrSessionInUse):
			return nil, huma.Error409Conflict(msgSessionBusy)
		}
	}

	return h.semesterWeeksFresh(ctx, req)
}

// semesterWeeksReuse drives an already-authenticated session. The caller
// holds the checkout.
func (h *TimetableHandler) semesterWeeksReuse(ctx context.Context, req *models.SemesterWeeksRequest, sess *session.Session) (*models.SemesterWeeksResponse, error) {
	start := time.Now()
	defer h.sessions.Release(req.SessionID)

	d := sess.Driver

	if err := h.portal.EnsureTimetableView(ctx, d); err != nil {
		h.abort(req.SessionID, "restore timetable view", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sems, weeks, err := h.portal.ReadOptions(ctx, d)
	if err != nil {
		h.abort(req.SessionID, "read options", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sem, ok := portal.FindOption(sems, req.SemID)
	if !ok {
		h.sessions.Touch(req.SessionID)
		return nil, huma.Error400BadRequest(msgInvalidSemester)
	}

	result := h.portal.ScrapeSemester(ctx, d, sem, weeks, h.maxWeeks(req.MaxWeeks))
	h.sessions.Touch(req.SessionID)

	h.logger.Info("semester weeks scraped",
		"semester", sem.Name,
		"weeks", len(result.Weeks),
		"reused_session", true,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return semesterWeeksResponse(result), nil
}

// semesterWeeksFresh runs a one-shot login with the supplied credentials.
// The browser authenticates, so it is discarded afterwards regardless of
// outcome and the pool builds a replacement.
func (h *TimetableHandler) semesterWeeksFresh(ctx context.Context, req *models.SemesterWeeksRequest) (*models.SemesterWeeksResponse, error) {
	start := time.Now()

	if req.Username == "" || req.Password == "" || req.Captcha == "" {
		return nil, huma.Error400BadRequest(msgCredentialsNeeded)
	}

	ctx = logging.WithPortalUser(ctx, req.Username)

	acquireCtx, cancel := context.WithTimeout(ctx, h.cfg.BrowserAcquireTimeout)
	defer cancel()
	mb, err := h.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, browser.ErrPoolExhausted) {
			return nil, huma.Error503ServiceUnavailable(msgPoolExhausted)
		}
		return nil, huma.Error503ServiceUnavailable("浏览器启动失败: " + err.Error())
	}
	defer h.pool.Discard(mb)

	d, err := browser.NewDriver(mb, h.logger)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if err := h.portal.OpenLogin(ctx, d); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if err := h.portal.Login(ctx, d, portal.Credentials{
		Username:    req.Username,
		Password:    req.Password,
		CaptchaText: req.Captcha,
	}); err != nil {
		if errors.Is(err, portal.ErrCaptchaRejected) {
			return nil, huma.Error401Unauthorized(rejectionDetail(err))
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if err := h.portal.OpenTimetable(ctx, d); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	sems, weeks, err := h.portal.ReadOptions(ctx, d)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	sem, ok := portal.FindOption(sems, req.SemID)
	if !ok {
		return nil, huma.Error400BadRequest(msgInvalidSemester)
	}

	result := h.portal.ScrapeSemester(ctx, d, sem, weeks, h.maxWeeks(req.MaxWeeks))

	h.logger.InfoContext(ctx, "semester weeks scraped",
		"semester", sem.Name,
		"weeks", len(result.Weeks),
		"reused_session", false,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return semesterWeeksResponse(result), nil
}

// abort tears the session and its browser down after a fatal flow error.
func (h *TimetableHandler) abort(token, step string, err error) {
	h.logger.Error("flow failed, aborting session", "step", step, "error", err)
	if abortErr := h.sessions.Abort(token); abortErr != nil {
		h.logger.Warn("session abort raced a terminal state", "error", abortErr)
	}
}

func (h *TimetableHandler) maxWeeks(requested int) int {
	if requested <= 0 {
		return h.cfg.MaxWeeksDefault
	}
	return requested
}

// rejectionDetail prefers the portal's own alert message over the
// generic stale-captcha hint.
func rejectionDetail(err error) string {
	var rejection *portal.RejectionError
	if errors.As(err, &rejection) && rejection.AlertText != "" {
		return rejection.AlertText
	}
	return msgCaptchaStale
}

func optionNames(opts []portal.Option) []string {
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Name
	}
	return names
}

func semesterMeta(opts []portal.Option) []timetable.SemesterMeta {
	meta := make([]timetable.SemesterMeta, len(opts))
	for i, o := range opts {
		meta[i] = timetable.SemesterMeta{SemID: o.ID, SemName: o.Name}
	}
	return meta
}

func semesterWeeksResponse(sem timetable.Semester) *models.SemesterWeeksResponse {
	weeks := sem.Weeks
	if weeks == nil {
		weeks = []timetable.Week{}
	}
	return &models.SemesterWeeksResponse{
		SemID:   sem.SemID,
		SemName: sem.SemName,
		Weeks:   weeks,
	}
}
