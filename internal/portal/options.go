package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Control IDs of the mini-UI combo widgets on the week timetable view.
const (
	SemesterControl = "semId"
	WeekControl     = "weekId"
)

// Option is one normalized entry of a portal selection control.
//
// The portal's option records are duck typed: the id may arrive under
// weekId, id, value or semId, and the display name under weekName, name,
// text or semName. Normalization happens exactly once, here at the driver
// boundary, so the rest of the code only ever sees {ID, Name}.
type Option struct {
	ID   string
	Name string
}

// NormalizeOption flattens one raw option record into an Option.
// The first non-empty candidate field wins; a record with no recognizable
// name field falls back to its whole rendered form.
func NormalizeOption(raw map[string]any) Option {
	opt := Option{
		ID:   firstField(raw, "weekId", "id", "value", "semId"),
		Name: firstField(raw, "weekName", "name", "text", "semName"),
	}
	if opt.Name == "" {
		opt.Name = fmt.Sprintf("%v", raw)
	}
	return opt
}

func firstField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := fieldString(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

// fieldString renders a JSON-decoded scalar. Numbers keep their integral
// form so numeric ids round-trip without a decimal point.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

const readOptionsJS = `(id) => JSON.stringify(mini.get(id).getData() || [])`

// ReadOptions pulls the semester and week option lists from the timetable
// view. The mini-UI widgets initialize asynchronously, so an empty list is
// re-read once after a short delay before being believed.
func (c *Controller) ReadOptions(ctx context.Context, d Driver) (sems, weeks []Option, err error) {
	sems, err = c.readControl(ctx, d, SemesterControl)
	if err != nil {
		return nil, nil, err
	}
	weeks, err = c.readControl(ctx, d, WeekControl)
	if err != nil {
		return nil, nil, err
	}

	if len(sems) == 0 || len(weeks) == 0 {
		if err := sleep(ctx, c.cfg.OptionsRetryDelay); err != nil {
			return nil, nil, err
		}
		if len(sems) == 0 {
			if retry, err := c.readControl(ctx, d, SemesterControl); err == nil && len(retry) > 0 {
				sems = retry
			}
		}
		if len(weeks) == 0 {
			if retry, err := c.readControl(ctx, d, WeekControl); err == nil && len(retry) > 0 {
				weeks = retry
			}
		}
	}
	return sems, weeks, nil
}

func (c *Controller) readControl(ctx context.Context, d Driver, controlID string) ([]Option, error) {
	res, err := d.Eval(ctx, readOptionsJS, controlID)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s options: %v", ErrNavigationFailure, controlID, err)
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(res.Str()), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s options: %v", ErrNavigationFailure, controlID, err)
	}
	opts := make([]Option, 0, len(raw))
	for _, r := range raw {
		opts = append(opts, NormalizeOption(r))
	}
	return opts, nil
}

// FindOption returns the option whose ID matches, preserving portal order.
func FindOption(opts []Option, id string) (Option, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
