// Package sheet reads timetable workbooks into a model.Grid.
package sheet

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

var (
	// ErrUnreadable is returned when a workbook cannot be read or holds no rows.
	ErrUnreadable = errors.New("unreadable document")
	// ErrUnsupported is returned for file extensions other than xls/xlsx/xlsm.
	ErrUnsupported = fmt.Errorf("%w: unsupported format", ErrUnreadable)
)

// DefaultCharset is used for legacy workbooks whose strings are not UTF-16.
const DefaultCharset = "windows-1251"

// Reader reads the first worksheet of xls workbooks and the active
// worksheet of xlsx/xlsm workbooks.
type Reader struct {
	Charset string
}

// NewReader returns a Reader using charset for legacy .xls files.
func NewReader(charset string) *Reader {
	if charset == "" {
		charset = DefaultCharset
	}
	return &Reader{Charset: charset}
}

// Read returns the grid of the workbook at path with every cell trimmed.
func (r *Reader) Read(path string) (model.Grid, error) {
	var (
		grid model.Grid
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		grid, err = readXLSX(path)
	case ".xls":
		grid, err = readXLS(path, r.Charset)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrUnreadable, filepath.Base(path))
	}
	return grid, nil
}

func readXLSX(path string) (model.Grid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	grid := make(model.Grid, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strings.TrimSpace(v)
		}
		grid = append(grid, cells)
	}
	return trimTrailingEmpty(grid), nil
}

func readXLS(path, charset string) (grid model.Grid, err error) {
	// The BIFF decoder panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			grid, err = nil, fmt.Errorf("decode xls: %v", r)
		}
	}()

	wb, err := xls.Open(path, charset)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	grid = make(model.Grid, 0, int(sheet.MaxRow)+1)
	for r := 0; r <= int(sheet.MaxRow); r++ {
		row := sheet.Row(r)
		if row == nil {
			grid = append(grid, []string{})
			continue
		}
		cells := make([]string, row.LastCol())
		for c := range cells {
			cells[c] = strings.TrimSpace(row.Col(c))
		}
		grid = append(grid, cells)
	}
	return trimTrailingEmpty(grid), nil
}

// trimTrailingEmpty drops blank rows at the end of the sheet.
func trimTrailingEmpty(grid model.Grid) model.Grid {
	for len(grid) > 0 && blank(grid[len(grid)-1]) {
		grid = grid[:len(grid)-1]
	}
	return grid
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
