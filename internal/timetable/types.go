// Package timetable holds the scraped timetable model and the HTML
// extraction and default-selection logic that shapes portal pages into it.
package timetable

// CourseEntry is a single scheduled class inside one day column.
type CourseEntry struct {
	Period  string `json:"period"`
	Content string `json:"content"`
}

// Week is one scraped week: day label -> course entries in row order.
type Week struct {
	WeekID   string                   `json:"week_id"`
	WeekName string                   `json:"week_name"`
	Courses  map[string][]CourseEntry `json:"courses"`
}

// HasCourses reports whether any day column contains at least one entry.
func (w Week) HasCourses() bool {
	for _, entries := range w.Courses {
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

// Semester groups the weeks scraped for one semester option.
type Semester struct {
	SemID   string `json:"sem_id"`
	SemName string `json:"sem_name"`
	Weeks   []Week `json:"weeks"`
}

// SemesterMeta identifies a semester option without its scraped weeks.
// The lazy endpoints return these so clients can fetch weeks on demand.
type SemesterMeta struct {
	SemID   string `json:"sem_id"`
	SemName string `json:"sem_name"`
}
