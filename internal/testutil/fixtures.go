package testutil

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// XLSX builds a workbook with a header row followed by rows.
func XLSX(t testing.TB, header []string, rows ...[]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	write := func(row int, values []any) {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("writing row %d: %v", row, err)
		}
	}

	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	write(1, hdr)
	for i, r := range rows {
		write(i+2, r)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("writing workbook: %v", err)
	}
	return buf.Bytes()
}
