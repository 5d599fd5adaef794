package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Workbook is a local .xlsx file. An empty path keeps the workbook in memory,
// which is what tests and the endpoint emulator use.
type Workbook struct {
	mu   sync.Mutex
	f    *excelize.File
	path string
}

var _ Book = (*Workbook)(nil)

// OpenWorkbook opens path, creating the file when it does not exist yet.
func OpenWorkbook(path string) (*Workbook, error) {
	if path == "" {
		return &Workbook{f: excelize.NewFile()}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		wb := &Workbook{f: excelize.NewFile(), path: path}
		if err := wb.f.SaveAs(path); err != nil {
			return nil, fmt.Errorf("create workbook %s: %w", path, err)
		}
		return wb, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{f: f, path: path}, nil
}

// Sheet returns the named tab, creating it when missing.
func (w *Workbook) Sheet(name string) (Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := w.f.GetSheetIndex(name)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		if _, err := w.f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet %s: %w", name, err)
		}
		if err := w.persist(); err != nil {
			return nil, err
		}
	}
	return &workbookSheet{wb: w, name: name}, nil
}

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *Workbook) persist() error {
	if w.path == "" {
		return nil
	}
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// rows returns the tab without trailing empty rows. Caller holds mu.
func (w *Workbook) rows(name string) ([][]string, error) {
	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, err
	}
	for len(rows) > 0 && emptyRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

func emptyRow(r []string) bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

type workbookSheet struct {
	wb   *Workbook
	name string
}

func (s *workbookSheet) Name() string { return s.name }

func (s *workbookSheet) LastRow(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.wb.mu.Lock()
	defer s.wb.mu.Unlock()

	rows, err := s.wb.rows(s.name)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *workbookSheet) ReadRows(ctx context.Context, from, count int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from < 1 || count < 0 {
		return nil, ErrOutOfRange
	}
	s.wb.mu.Lock()
	defer s.wb.mu.Unlock()

	rows, err := s.wb.rows(s.name)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, count)
	width := 0
	for i := from - 1; i < from-1+count && i < len(rows); i++ {
		r := append([]string(nil), rows[i]...)
		if len(r) > width {
			width = len(r)
		}
		out = append(out, r)
	}
	for i := range out {
		for len(out[i]) < width {
			out[i] = append(out[i], "")
		}
	}
	return out, nil
}

func (s *workbookSheet) ReadColumn(ctx context.Context, col, from, count int) ([]string, error) {
	if col < 1 {
		return nil, ErrOutOfRange
	}
	rows, err := s.ReadRows(ctx, from, count)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		if col <= len(r) {
			out[i] = r[col-1]
		}
	}
	return out, nil
}

func (s *workbookSheet) ReadCell(ctx context.Context, row, col int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkCell(row, col); err != nil {
		return "", err
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	s.wb.mu.Lock()
	defer s.wb.mu.Unlock()
	return s.wb.f.GetCellValue(s.name, cell)
}

func (s *workbookSheet) WriteCell(ctx context.Context, row, col int, value string) error {
	return s.WriteCells(ctx, row, col, []string{value})
}

func (s *workbookSheet) WriteCells(ctx context.Context, row, fromCol int, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCell(row, fromCol); err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(fromCol, row)
	if err != nil {
		return err
	}
	s.wb.mu.Lock()
	defer s.wb.mu.Unlock()

	vals := append([]string(nil), values...)
	if err := s.wb.f.SetSheetRow(s.name, cell, &vals); err != nil {
		return err
	}
	return s.wb.persist()
}

func (s *workbookSheet) AppendRow(ctx context.Context, values []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.wb.mu.Lock()
	defer s.wb.mu.Unlock()

	rows, err := s.wb.rows(s.name)
	if err != nil {
		return 0, err
	}
	next := len(rows) + 1
	cell, err := excelize.CoordinatesToCellName(1, next)
	if err != nil {
		return 0, err
	}
	vals := append([]string(nil), values...)
	if err := s.wb.f.SetSheetRow(s.name, cell, &vals); err != nil {
		return 0, err
	}
	if err := s.wb.persist(); err != nil {
		return 0, err
	}
	return next, nil
}
