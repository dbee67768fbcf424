package timetable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var yearSpanRe = regexp.MustCompile(`(\d{4})-(\d{4})`)

// PickDefaults selects the semester and week a client should open first.
//
// The semester whose name carries the largest "YYYY-YYYY" starting year wins,
// with ties going to the earliest scraped one. Names with no parsable year
// pair are skipped; if none parse, the first semester wins. The default week
// is the chosen semester's first scraped week.
func PickDefaults(semesters []Semester) (defaultSemester, defaultWeek string) {
	if len(semesters) == 0 {
		return "", ""
	}

	chosen := 0
	bestYear := -1
	for i, sem := range semesters {
		m := yearSpanRe.FindStringSubmatch(sem.SemName)
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if year > bestYear {
			bestYear = year
			chosen = i
		}
	}

	defaultSemester = semesters[chosen].SemName
	if weeks := semesters[chosen].Weeks; len(weeks) > 0 {
		defaultWeek = weeks[0].WeekName
	}
	return defaultSemester, defaultWeek
}

// InferCurrentSemester guesses the academic term in progress at now and
// returns the first semester name containing it as a substring. September
// onward is the fall term of the starting year; March through August is the
// spring term of the year before; January and February still belong to the
// previous fall term. Falls back to the first name when nothing matches.
func InferCurrentSemester(now time.Time, names []string) string {
	var target string
	year := now.Year()
	switch {
	case int(now.Month()) >= 9:
		target = fmt.Sprintf("%d-%d学年秋季学期", year, year+1)
	case int(now.Month()) >= 3:
		target = fmt.Sprintf("%d-%d学年春季学期", year-1, year)
	default:
		target = fmt.Sprintf("%d-%d学年秋季学期", year-1, year)
	}

	for _, name := range names {
		if strings.Contains(name, target) {
			return name
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}
