// Package sheets addresses spreadsheet tabs by row position. It has no
// indexing and no transactions: callers locate records by scanning columns.
//
// Rows and columns are 1-based. Row 1 is the header row.
package sheets

import (
	"context"
	"errors"
)

var (
	ErrUnavailable = errors.New("sheet backend unavailable")
	ErrOutOfRange  = errors.New("row or column out of range")
)

// Sheet is one tab of a spreadsheet. Every value travels as a string; numeric
// interpretation is left to the caller.
type Sheet interface {
	Name() string
	// LastRow returns the index of the last non-empty row, 0 for an empty tab.
	LastRow(ctx context.Context) (int, error)
	// ReadRows returns count rows starting at from. Short rows are padded to
	// the widest row returned.
	ReadRows(ctx context.Context, from, count int) ([][]string, error)
	// ReadColumn returns count cells of col starting at row from.
	ReadColumn(ctx context.Context, col, from, count int) ([]string, error)
	ReadCell(ctx context.Context, row, col int) (string, error)
	WriteCell(ctx context.Context, row, col int, value string) error
	// WriteCells overwrites consecutive cells of row starting at fromCol.
	WriteCells(ctx context.Context, row, fromCol int, values []string) error
	// AppendRow writes values after the last row and returns its index.
	AppendRow(ctx context.Context, values []string) (int, error)
}

// Book hands out tabs by name.
type Book interface {
	Sheet(name string) (Sheet, error)
	Close() error
}

func checkCell(row, col int) error {
	if row < 1 || col < 1 {
		return ErrOutOfRange
	}
	return nil
}
