package timetable

import (
	"testing"
	"time"
)

func TestPickDefaults(t *testing.T) {
	week := func(name string) Week {
		return Week{WeekID: name, WeekName: name, Courses: map[string][]CourseEntry{
			"周一": {{Period: "1-2", Content: "x"}},
		}}
	}

	t.Run("largest starting year wins", func(t *testing.T) {
		sems := []Semester{
			{SemName: "2022-2023学年秋季学期", Weeks: []Week{week("第1周")}},
			{SemName: "2023-2024学年春季学期", Weeks: []Week{week("第8周")}},
		}
		sem, wk := PickDefaults(sems)
		if sem != "2023-2024学年春季学期" {
			t.Errorf("expected 2023-2024 semester, got %q", sem)
		}
		if wk != "第8周" {
			t.Errorf("expected first week of chosen semester, got %q", wk)
		}
	})

	t.Run("tie keeps first seen", func(t *testing.T) {
		sems := []Semester{
			{SemName: "2023-2024学年秋季学期", Weeks: []Week{week("第1周")}},
			{SemName: "2023-2024学年春季学期", Weeks: []Week{week("第2周")}},
		}
		sem, _ := PickDefaults(sems)
		if sem != "2023-2024学年秋季学期" {
			t.Errorf("expected first-seen semester on a tie, got %q", sem)
		}
	})

	t.Run("unparsable names fall back to first", func(t *testing.T) {
		sems := []Semester{
			{SemName: "当前学期", Weeks: []Week{week("第1周")}},
			{SemName: "历史学期", Weeks: []Week{week("第2周")}},
		}
		sem, wk := PickDefaults(sems)
		if sem != "当前学期" || wk != "第1周" {
			t.Errorf("expected fallback to first semester, got %q / %q", sem, wk)
		}
	})

	t.Run("mixed parsable and unparsable", func(t *testing.T) {
		sems := []Semester{
			{SemName: "测试学期", Weeks: []Week{week("第1周")}},
			{SemName: "2021-2022学年秋季学期", Weeks: []Week{week("第3周")}},
		}
		sem, _ := PickDefaults(sems)
		if sem != "2021-2022学年秋季学期" {
			t.Errorf("expected the parsable name to win, got %q", sem)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		sem, wk := PickDefaults(nil)
		if sem != "" || wk != "" {
			t.Errorf("expected empty defaults, got %q / %q", sem, wk)
		}
	})

	t.Run("chosen semester without weeks", func(t *testing.T) {
		sems := []Semester{{SemName: "2023-2024学年秋季学期"}}
		sem, wk := PickDefaults(sems)
		if sem != "2023-2024学年秋季学期" {
			t.Errorf("unexpected semester %q", sem)
		}
		if wk != "" {
			t.Errorf("expected empty default week, got %q", wk)
		}
	})
}

func TestInferCurrentSemester(t *testing.T) {
	names := []string{
		"2025-2026学年秋季学期",
		"2024-2025学年春季学期",
		"2024-2025学年秋季学期",
	}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"september maps to new fall term", time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC), "2025-2026学年秋季学期"},
		{"december stays in fall term", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), "2025-2026学年秋季学期"},
		{"april maps to spring term", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), "2024-2025学年春季学期"},
		{"january maps to previous fall term", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), "2024-2025学年秋季学期"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferCurrentSemester(tt.now, names); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("no match falls back to first", func(t *testing.T) {
		got := InferCurrentSemester(time.Date(2030, 10, 1, 0, 0, 0, 0, time.UTC), names)
		if got != names[0] {
			t.Errorf("expected first name, got %q", got)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		if got := InferCurrentSemester(time.Now(), nil); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}
