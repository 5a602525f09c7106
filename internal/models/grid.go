package models

import (
	"fmt"
	"time"
)

// GridRowKey selects what each grid row represents.
type GridRowKey string

const (
	GridRowTeacher   GridRowKey = "teacher"
	GridRowClassroom GridRowKey = "classroom"
	GridRowStudent   GridRowKey = "student"
	// GridRowMonth lays out calendar weeks of a month as rows.
	GridRowMonth GridRowKey = "month"
)

// GridColumnKey selects what each grid column represents.
type GridColumnKey string

const (
	GridColumnDay        GridColumnKey = "day"
	GridColumnTimeBucket GridColumnKey = "time_bucket"
)

// AllowedGridSteps are the bucket widths offered by the rotated view.
var AllowedGridSteps = []time.Duration{
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	3 * time.Hour,
	4 * time.Hour,
}

// GridAxis describes one projection of sessions onto a grid.
type GridAxis struct {
	Row    GridRowKey    `json:"row"`
	Column GridColumnKey `json:"column"`
	Step   time.Duration `json:"step,omitempty"`
	// WeekStart anchors day and time-bucket views; any day of the week is accepted.
	WeekStart Date `json:"week_start"`
	// Day narrows a time-bucket view to a single date.
	Day Date `json:"day,omitempty"`
	// Month anchors the month view; any day of the month is accepted.
	Month Date `json:"month,omitempty"`
}

// Validate checks the row/column combination and step size.
func (a GridAxis) Validate() error {
	switch a.Row {
	case GridRowTeacher, GridRowClassroom, GridRowStudent:
		if a.WeekStart.IsZero() {
			return fmt.Errorf("week_start is required for %s rows", a.Row)
		}
	case GridRowMonth:
		if a.Month.IsZero() {
			return fmt.Errorf("month is required for month rows")
		}
		if a.Column != GridColumnDay {
			return fmt.Errorf("month rows only support day columns")
		}
		return nil
	default:
		return fmt.Errorf("unknown row key %q", a.Row)
	}
	switch a.Column {
	case GridColumnDay:
		return nil
	case GridColumnTimeBucket:
		if a.Row == GridRowStudent {
			return fmt.Errorf("student rows only support day columns")
		}
		for _, step := range AllowedGridSteps {
			if a.Step == step {
				return nil
			}
		}
		return fmt.Errorf("unsupported step %s", a.Step)
	default:
		return fmt.Errorf("unknown column key %q", a.Column)
	}
}

// GridColumn is one column header.
type GridColumn struct {
	Key   string     `json:"key"`
	Label string     `json:"label"`
	Date  *Date      `json:"date,omitempty"`
	Start *TimeOfDay `json:"start,omitempty"`
	End   *TimeOfDay `json:"end,omitempty"`
}

// GridCell holds the sessions for one row/column intersection ordered by start time.
type GridCell struct {
	ColumnKey string          `json:"column_key"`
	Sessions  []LessonSession `json:"sessions"`
}

// GridRow is one row with cells aligned to Grid.Columns.
type GridRow struct {
	Key   string     `json:"key"`
	Label string     `json:"label"`
	Cells []GridCell `json:"cells"`
}

// Grid is the rendered projection.
type Grid struct {
	Axis    GridAxis     `json:"axis"`
	Columns []GridColumn `json:"columns"`
	Rows    []GridRow    `json:"rows"`
	// Unplaced counts sessions whose day/time fell outside every column.
	Unplaced int `json:"unplaced"`
}

// Cell returns the cell at (rowKey, columnKey) or nil.
func (g *Grid) Cell(rowKey, columnKey string) *GridCell {
	if g == nil {
		return nil
	}
	for ri := range g.Rows {
		if g.Rows[ri].Key != rowKey {
			continue
		}
		for ci := range g.Rows[ri].Cells {
			if g.Rows[ri].Cells[ci].ColumnKey == columnKey {
				return &g.Rows[ri].Cells[ci]
			}
		}
	}
	return nil
}

// GridCellKey addresses a drag origin or hover target on a rendered grid.
type GridCellKey struct {
	RowKey    string `json:"row_key" validate:"required"`
	ColumnKey string `json:"column_key" validate:"required"`
}
