package interfaces

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the sheet header and rows.
func WriteCSV(w io.Writer, sheet *Sheet) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(sheet.Header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet.Name, err)
	}
	if err := writer.WriteAll(sheet.Rows); err != nil {
		return fmt.Errorf("failed to write %s rows: %w", sheet.Name, err)
	}
	return nil
}

// ReadCSV parses a sheet written by WriteCSV. Rows may have differing lengths.
func ReadCSV(r io.Reader, name string) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %s has no header", name)
	}
	return &Sheet{Name: name, Header: records[0], Rows: records[1:]}, nil
}
