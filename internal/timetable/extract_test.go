package timetable

import "testing"

func TestParseWeekTable(t *testing.T) {
	t.Run("plain text cells", func(t *testing.T) {
		html := `<html><body><table id="table">
			<tr><td>节次</td><td>周一</td><td>周二</td></tr>
			<tr><td>1-2</td><td>数学</td><td></td></tr>
		</table></body></html>`

		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok for a well-formed table")
		}
		if len(courses) != 2 {
			t.Fatalf("expected 2 day columns, got %d", len(courses))
		}
		mon := courses["周一"]
		if len(mon) != 1 {
			t.Fatalf("expected 1 entry for 周一, got %d", len(mon))
		}
		if mon[0].Period != "1-2" || mon[0].Content != "数学" {
			t.Errorf("expected {1-2 数学}, got %+v", mon[0])
		}
		tue, present := courses["周二"]
		if !present {
			t.Fatal("expected 周二 to be present even when empty")
		}
		if len(tue) != 0 {
			t.Errorf("expected no entries for 周二, got %+v", tue)
		}
	})

	t.Run("structured course info", func(t *testing.T) {
		html := `<table id="table">
			<tr><td>节次</td><td>周三</td></tr>
			<tr><td>3-4</td><td>
				<div class="courseInfo">
					<span>高等数学</span>
					<span class="teachCls">计科2班</span>
					<span class="teacher">王老师</span>
					<span class="place">A301</span>
				</div>
			</td></tr>
		</table>`

		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok")
		}
		wed := courses["周三"]
		if len(wed) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(wed))
		}
		want := "高等数学 计科2班 王老师 A301"
		if wed[0].Content != want {
			t.Errorf("expected content %q, got %q", want, wed[0].Content)
		}
	})

	t.Run("partial course info spans", func(t *testing.T) {
		html := `<table id="table">
			<tr><td>节次</td><td>周五</td></tr>
			<tr><td>5-6</td><td>
				<div class="courseInfo"><span>体育</span><span class="place">操场</span></div>
			</td></tr>
		</table>`

		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok")
		}
		fri := courses["周五"]
		if len(fri) != 1 || fri[0].Content != "体育 操场" {
			t.Errorf("expected [体育 操场], got %+v", fri)
		}
	})

	t.Run("missing table", func(t *testing.T) {
		courses, ok := ParseWeekTable(`<html><body><p>loading</p></body></html>`)
		if ok {
			t.Error("expected ok=false when the page has no table")
		}
		if len(courses) != 0 {
			t.Errorf("expected empty result, got %+v", courses)
		}
	})

	t.Run("table with wrong id", func(t *testing.T) {
		if _, ok := ParseWeekTable(`<table id="other"><tr><td>a</td><td>b</td></tr></table>`); ok {
			t.Error("expected ok=false for a table without id=table")
		}
	})

	t.Run("header only", func(t *testing.T) {
		html := `<table id="table"><tr><td>节次</td><td>周一</td><td>周二</td></tr></table>`
		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok")
		}
		for day, entries := range courses {
			if len(entries) != 0 {
				t.Errorf("expected %s to be empty, got %+v", day, entries)
			}
		}
	})

	t.Run("cells beyond day count ignored", func(t *testing.T) {
		html := `<table id="table">
			<tr><td>节次</td><td>周一</td></tr>
			<tr><td>1-2</td><td>语文</td><td>多余</td><td>更多</td></tr>
		</table>`

		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok")
		}
		if len(courses) != 1 {
			t.Fatalf("expected 1 day column, got %d", len(courses))
		}
		if got := courses["周一"]; len(got) != 1 || got[0].Content != "语文" {
			t.Errorf("expected only 语文, got %+v", got)
		}
	})

	t.Run("period newlines stripped", func(t *testing.T) {
		html := "<table id=\"table\">" +
			"<tr><td>节次</td><td>周一</td></tr>" +
			"<tr><td>1\n-\n2</td><td>英语</td></tr>" +
			"</table>"

		courses, ok := ParseWeekTable(html)
		if !ok {
			t.Fatal("expected ok")
		}
		got := courses["周一"]
		if len(got) != 1 || got[0].Period != "1-2" {
			t.Errorf("expected period 1-2, got %+v", got)
		}
	})
}

func TestWeekHasCourses(t *testing.T) {
	empty := Week{Courses: map[string][]CourseEntry{"周一": {}, "周二": {}}}
	if empty.HasCourses() {
		t.Error("expected HasCourses=false for all-empty columns")
	}

	full := Week{Courses: map[string][]CourseEntry{
		"周一": {},
		"周二": {{Period: "1-2", Content: "数学"}},
	}}
	if !full.HasCourses() {
		t.Error("expected HasCourses=true when any column has an entry")
	}

	var none Week
	if none.HasCourses() {
		t.Error("expected HasCourses=false for a zero week")
	}
}
