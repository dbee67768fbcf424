// Package models defines API request and response types.
package models

// TimetableRequest carries the login attempt for a previously issued
// session. Captcha may be empty on the first call; the response then
// prompts for manual entry without burning the session.
type TimetableRequest struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Captcha   string `json:"captcha,omitempty"`
}

// SemesterWeeksRequest asks for the first MaxWeeks weeks of a single
// semester. A kept session is reused when SessionID still resolves;
// otherwise Username/Password/Captcha must carry a fresh login.
type SemesterWeeksRequest struct {
	SessionID string `json:"session_id,omitempty"`
	SemID     string `json:"sem_id"`
	MaxWeeks  int    `json:"max_weeks,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Captcha   string `json:"captcha,omitempty"`
}

// HumaTimetableRequest wraps TimetableRequest for Huma API.
type HumaTimetableRequest struct {
	Body TimetableRequest
}

// HumaSemesterWeeksRequest wraps SemesterWeeksRequest for Huma API.
type HumaSemesterWeeksRequest struct {
	Body SemesterWeeksRequest
}
