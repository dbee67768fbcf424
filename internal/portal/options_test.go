package portal

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeOption(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Option
	}{
		{
			name: "week fields",
			raw:  map[string]any{"weekId": "3", "weekName": "第3周"},
			want: Option{ID: "3", Name: "第3周"},
		},
		{
			name: "semester fields",
			raw:  map[string]any{"semId": "2025-1", "semName": "2025-2026学年第一学期"},
			want: Option{ID: "2025-1", Name: "2025-2026学年第一学期"},
		},
		{
			name: "generic value and text",
			raw:  map[string]any{"value": "v1", "text": "项目一"},
			want: Option{ID: "v1", Name: "项目一"},
		},
		{
			name: "numeric id keeps integral form",
			raw:  map[string]any{"id": float64(12), "name": "十二"},
			want: Option{ID: "12", Name: "十二"},
		},
		{
			name: "fractional id keeps its digits",
			raw:  map[string]any{"id": float64(2.5), "name": "x"},
			want: Option{ID: "2.5", Name: "x"},
		},
		{
			name: "boolean value",
			raw:  map[string]any{"value": true, "name": "开"},
			want: Option{ID: "true", Name: "开"},
		},
		{
			name: "earlier key wins",
			raw:  map[string]any{"weekId": "7", "id": "ignored", "weekName": "第7周", "name": "ignored"},
			want: Option{ID: "7", Name: "第7周"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeOption(tt.raw)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}

	t.Run("nameless record falls back to its rendered form", func(t *testing.T) {
		raw := map[string]any{"weekId": "9"}
		got := NormalizeOption(raw)
		if got.ID != "9" {
			t.Errorf("expected ID 9, got %q", got.ID)
		}
		if want := fmt.Sprintf("%v", raw); got.Name != want {
			t.Errorf("expected %q, got %q", want, got.Name)
		}
	})
}

func TestFindOption(t *testing.T) {
	opts := []Option{{ID: "1", Name: "第1周"}, {ID: "2", Name: "第2周"}}

	if got, ok := FindOption(opts, "2"); !ok || got.Name != "第2周" {
		t.Errorf("expected 第2周, got %+v ok=%v", got, ok)
	}
	if _, ok := FindOption(opts, "99"); ok {
		t.Error("expected a miss for an unknown id")
	}
}

func TestReadOptions(t *testing.T) {
	c := testController()

	t.Run("reads both controls", func(t *testing.T) {
		d := newScriptDriver()

		sems, weeks, err := c.ReadOptions(context.Background(), d)
		if err != nil {
			t.Fatalf("ReadOptions failed: %v", err)
		}
		if len(sems) != 2 || sems[0].ID != "s1" {
			t.Errorf("unexpected semesters: %+v", sems)
		}
		if len(weeks) != 2 || weeks[1].Name != "第2周" {
			t.Errorf("unexpected weeks: %+v", weeks)
		}
	})

	t.Run("empty list is re-read once", func(t *testing.T) {
		d := newScriptDriver()
		d.semsReads = []string{`[]`, `[{"semId":"s1","semName":"秋"}]`}

		sems, weeks, err := c.ReadOptions(context.Background(), d)
		if err != nil {
			t.Fatalf("ReadOptions failed: %v", err)
		}
		if len(sems) != 1 || sems[0].ID != "s1" {
			t.Errorf("expected the retried list, got %+v", sems)
		}
		if d.semReadIdx != 2 {
			t.Errorf("expected two semester reads, got %d", d.semReadIdx)
		}
		if len(weeks) != 2 || d.weekReadIdx != 1 {
			t.Errorf("expected one week read, got %d (%+v)", d.weekReadIdx, weeks)
		}
	})

	t.Run("persistently empty list is believed", func(t *testing.T) {
		d := newScriptDriver()
		d.weeksReads = []string{`[]`}

		sems, weeks, err := c.ReadOptions(context.Background(), d)
		if err != nil {
			t.Fatalf("ReadOptions failed: %v", err)
		}
		if len(sems) != 2 {
			t.Errorf("unexpected semesters: %+v", sems)
		}
		if len(weeks) != 0 {
			t.Errorf("expected no weeks, got %+v", weeks)
		}
		if d.weekReadIdx != 2 {
			t.Errorf("expected two week reads, got %d", d.weekReadIdx)
		}
	})

	t.Run("undecodable payload fails navigation", func(t *testing.T) {
		d := newScriptDriver()
		d.semsReads = []string{`mini is not defined`}

		_, _, err := c.ReadOptions(context.Background(), d)
		if !errors.Is(err, ErrNavigationFailure) {
			t.Errorf("expected ErrNavigationFailure, got %v", err)
		}
	})
}
