package timetable

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseWeekTable extracts the week grid from a timetable page snapshot.
//
// The portal renders the grid as table#table. The first row carries the day
// labels with the leading period column, so its first cell is dropped. Every
// later row contributes its period label (first cell) plus one optional
// course entry per day column. Cells past the last day label are ignored.
//
// ok is false when the snapshot has no usable table, which callers treat the
// same as a week with no courses.
func ParseWeekTable(html string) (courses map[string][]CourseEntry, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	table := doc.Find("table#table").First()
	if table.Length() == 0 {
		return nil, false
	}
	rows := table.Find("tr")
	if rows.Length() == 0 {
		return nil, false
	}

	var days []string
	rows.First().Find("td").Each(func(i int, cell *goquery.Selection) {
		if i == 0 {
			return
		}
		days = append(days, cleanText(cell.Text()))
	})
	if len(days) == 0 {
		return nil, false
	}

	courses = make(map[string][]CourseEntry, len(days))
	for _, day := range days {
		courses[day] = []CourseEntry{}
	}

	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		period := cleanText(cells.First().Text())
		cells.Each(func(i int, cell *goquery.Selection) {
			if i == 0 || i > len(days) {
				return
			}
			content := cellContent(cell)
			if content == "" {
				return
			}
			day := days[i-1]
			courses[day] = append(courses[day], CourseEntry{Period: period, Content: content})
		})
	})

	return courses, true
}

// cellContent renders one grid cell as a display string.
//
// Cells with a structured div.courseInfo block join the course name span with
// the teachCls, teacher and place spans. Plain cells fall back to their
// trimmed text. Empty cells yield "".
func cellContent(cell *goquery.Selection) string {
	info := cell.Find("div.courseInfo").First()
	if info.Length() == 0 {
		return cleanText(cell.Text())
	}

	var parts []string
	if name := cleanText(info.Find("span").First().Text()); name != "" {
		parts = append(parts, name)
	}
	for _, sel := range []string{"span.teachCls", "span.teacher", "span.place"} {
		if v := cleanText(info.Find(sel).First().Text()); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// cleanText trims whitespace and strips embedded newlines, which the portal
// injects inside period labels.
func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", ""))
}
