package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kebiao-app/timetable-server/internal/timetable"
)

// Week view page markers.
const (
	timetableEntryXPath = `//a[@title="周课表"]`
	timetableEntryText  = "周课表"
	timetableURLMark    = "weekCourseTable.do"
	courseTableSelector = "table#table .courseInfo"
)

// Reused sessions get shorter waits: the view is usually still loaded.
const (
	viewCheckTimeout  = 2 * time.Second
	reopenWaitTimeout = 5 * time.Second
)

var errTableMissing = errors.New("no timetable table in page")

// OpenTimetable clicks through from the authenticated landing page to the
// week timetable view, which the portal opens in a new window. The entry
// link is located by its exact title first, then by partial link text.
func (c *Controller) OpenTimetable(ctx context.Context, d Driver) error {
	return c.openTimetable(ctx, d, c.cfg.NavWaitTimeout, c.cfg.PageSettleDelay)
}

func (c *Controller) openTimetable(ctx context.Context, d Driver, wait, settle time.Duration) error {
	entry, err := d.WaitElement(ctx, XPath(timetableEntryXPath), wait)
	if err != nil {
		entry, err = d.WaitElement(ctx, PartialText(timetableEntryText), wait)
		if err != nil {
			return fmt.Errorf("%w: timetable entry link: %v", ErrNavigationFailure, err)
		}
	}
	if err := entry.Click(); err != nil {
		return fmt.Errorf("%w: click timetable entry: %v", ErrNavigationFailure, err)
	}
	if err := d.SwitchToWindow(ctx, timetableURLMark, wait); err != nil {
		return fmt.Errorf("%w: timetable window: %v", ErrNavigationFailure, err)
	}
	return sleep(ctx, settle)
}

// EnsureTimetableView puts a reused authenticated session back on the week
// view: a quick URL check first, then a re-click of the entry link when the
// browser wandered off it.
func (c *Controller) EnsureTimetableView(ctx context.Context, d Driver) error {
	err := d.WaitURL(ctx, viewCheckTimeout, func(url string) bool {
		return strings.Contains(url, timetableURLMark)
	})
	if err == nil {
		return nil
	}
	return c.openTimetable(ctx, d, reopenWaitTimeout, 2*c.cfg.PageSettleDelay)
}

// ScrapeAll sweeps every semester and week combination in portal order.
// Only weeks with at least one course survive, and only semesters with at
// least one surviving week are returned.
func (c *Controller) ScrapeAll(ctx context.Context, d Driver, sems, weeks []Option) ([]timetable.Semester, error) {
	result := make([]timetable.Semester, 0, len(sems))
	for _, sem := range sems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scraped := c.scrapeWeeks(ctx, d, sem, weeks, len(weeks))
		if len(scraped) == 0 {
			continue
		}
		result = append(result, timetable.Semester{
			SemID:   sem.ID,
			SemName: sem.Name,
			Weeks:   scraped,
		})
	}
	return result, nil
}

// ScrapeSemester sweeps a single semester's first maxWeeks weeks.
func (c *Controller) ScrapeSemester(ctx context.Context, d Driver, sem Option, weeks []Option, maxWeeks int) timetable.Semester {
	if maxWeeks < 1 {
		maxWeeks = 1
	}
	return timetable.Semester{
		SemID:   sem.ID,
		SemName: sem.Name,
		Weeks:   c.scrapeWeeks(ctx, d, sem, weeks, maxWeeks),
	}
}

// scrapeWeeks applies the skip-on-failure policy: a selection error, an
// alert, a table wait timeout or an empty table all skip the pair and the
// sweep moves on.
func (c *Controller) scrapeWeeks(ctx context.Context, d Driver, sem Option, weeks []Option, maxWeeks int) []timetable.Week {
	var scraped []timetable.Week
	for i, wk := range weeks {
		if i >= maxWeeks || ctx.Err() != nil {
			break
		}
		week, err := c.scrapeWeek(ctx, d, sem, wk)
		if err != nil {
			c.logger.Debug("skipping week",
				"semester", sem.Name,
				"week", wk.Name,
				"reason", err)
			continue
		}
		if !week.HasCourses() {
			c.logger.Debug("skipping empty week", "semester", sem.Name, "week", wk.Name)
			continue
		}
		scraped = append(scraped, week)
	}
	return scraped
}

func (c *Controller) scrapeWeek(ctx context.Context, d Driver, sem, wk Option) (timetable.Week, error) {
	if err := d.SetSelection(ctx, SemesterControl, sem.ID, sem.Name); err != nil {
		return timetable.Week{}, err
	}
	if err := d.SetSelection(ctx, WeekControl, wk.ID, wk.Name); err != nil {
		return timetable.Week{}, err
	}

	if text, present, err := d.AcceptAlert(); err == nil && present {
		return timetable.Week{}, &StepError{Step: "portal alert", Cause: errors.New(text)}
	}

	if _, err := d.WaitElement(ctx, CSS(courseTableSelector), c.cfg.TableWaitTimeout); err != nil {
		return timetable.Week{}, &StepError{Step: "table refresh", Cause: err}
	}

	html, err := d.PageHTML()
	if err != nil {
		return timetable.Week{}, &StepError{Step: "read page", Cause: err}
	}
	courses, ok := timetable.ParseWeekTable(html)
	if !ok {
		return timetable.Week{}, errTableMissing
	}
	return timetable.Week{WeekID: wk.ID, WeekName: wk.Name, Courses: courses}, nil
}
