package models

import (
	"github.com/kebiao-app/timetable-server/internal/timetable"
)

// CaptchaResponse is returned when a session is issued. CaptchaBase64
// is the full data URI exactly as the login page renders it, so clients
// can drop it straight into an image view.
type CaptchaResponse struct {
	SessionID     string `json:"session_id"`
	CaptchaBase64 string `json:"captcha_base64"`
}

// TimetableResponse covers every outcome of a login attempt.
//
// When the CAPTCHA was missing or rejected, NeedManualCaptcha is true,
// Message says why, and the session stays valid for another attempt.
// When login succeeded, Semesters carries the full sweep and the
// session is gone. AllSemestersMeta and the defaults are present even
// if the sweep found no published weeks, so clients can still render a
// picker and lazy-load.
type TimetableResponse struct {
	SessionID         string                   `json:"session_id,omitempty"`
	NeedManualCaptcha bool                     `json:"need_manual_captcha,omitempty"`
	ForceRefresh      *bool                    `json:"force_refresh,omitempty"`
	CaptchaBase64     string                   `json:"captcha_base64,omitempty"`
	Message           string                   `json:"message,omitempty"`
	Semesters         []timetable.Semester     `json:"semesters,omitempty"`
	DefaultSemester   string                   `json:"default_semester,omitempty"`
	DefaultWeek       string                   `json:"default_week,omitempty"`
	AllSemestersMeta  []timetable.SemesterMeta `json:"all_semesters_meta,omitempty"`
}

// OverviewResponse is the lazy-loading variant of a completed login:
// metadata and defaults only, no week data. The session is kept alive
// so SemesterWeeks calls can reuse it without another CAPTCHA.
type OverviewResponse struct {
	SessionID        string                   `json:"session_id"`
	Semesters        []timetable.Semester     `json:"semesters"`
	DefaultSemester  string                   `json:"default_semester"`
	DefaultWeek      string                   `json:"default_week"`
	AllSemestersMeta []timetable.SemesterMeta `json:"all_semesters_meta"`
	LazyLoading      bool                     `json:"lazy_loading"`
}

// SemesterWeeksResponse carries the weeks scraped for one semester.
type SemesterWeeksResponse struct {
	SemID   string           `json:"sem_id"`
	SemName string           `json:"sem_name"`
	Weeks   []timetable.Week `json:"weeks"`
}

// PoolHealth reports browser pool occupancy.
type PoolHealth struct {
	Total     int  `json:"total"`
	InUse     int  `json:"in_use"`
	Available int  `json:"available"`
	MaxSize   int  `json:"max_size"`
	Waiting   int  `json:"waiting"`
	Ready     bool `json:"ready"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	Pool           PoolHealth `json:"pool"`
	ActiveSessions int        `json:"active_sessions"`
	MemoryMB       uint64     `json:"memory_mb"`
}

// HumaCaptchaResponse wraps CaptchaResponse for Huma API.
type HumaCaptchaResponse struct {
	Body CaptchaResponse
}

// HumaTimetableResponse wraps TimetableResponse for Huma API.
type HumaTimetableResponse struct {
	Body TimetableResponse
}

// HumaOverviewResponse wraps OverviewResponse for Huma API.
type HumaOverviewResponse struct {
	Body OverviewResponse
}

// HumaSemesterWeeksResponse wraps SemesterWeeksResponse for Huma API.
type HumaSemesterWeeksResponse struct {
	Body SemesterWeeksResponse
}

// HumaHealthResponse wraps HealthResponse for Huma API.
type HumaHealthResponse struct {
	Body HealthResponse
}

// NewCaptchaPrompt asks the client to transcribe the already-issued
// image. force_refresh false tells it the current image is still live.
func NewCaptchaPrompt(sessionID, message string) *TimetableResponse {
	forceRefresh := false
	return &TimetableResponse{
		SessionID:         sessionID,
		NeedManualCaptcha: true,
		ForceRefresh:      &forceRefresh,
		Message:           message,
	}
}

// NewCaptchaRetry reports a rejected login along with the CAPTCHA image
// currently on the page, which the portal refreshes after a failure.
func NewCaptchaRetry(sessionID, captchaBase64, message string) *TimetableResponse {
	return &TimetableResponse{
		SessionID:         sessionID,
		NeedManualCaptcha: true,
		CaptchaBase64:     captchaBase64,
		Message:           message,
	}
}
