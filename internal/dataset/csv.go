package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// ReadCSV parses an IPD table with a header row. Columns are matched by name, so their
// order is free and extra columns are ignored. Empty cells and NA are missing values.
func ReadCSV(ctx context.Context, r io.Reader, schema config.Schema) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInvalidInput, errors.CodeInvalidInput, "failed to read CSV header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, v := range schema.Variables {
		if _, ok := index[v.Name]; !ok {
			return nil, errors.NewInvalidInputError("CSV has no column %q", v.Name)
		}
	}

	ds := New(schema)
	line := 1
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInvalidInput, errors.CodeInvalidInput,
				fmt.Sprintf("failed to read CSV line %d", line))
		}

		continuous := make(map[string]float64)
		categorical := make(map[string]string)
		for _, v := range schema.Variables {
			cell := strings.TrimSpace(record[index[v.Name]])
			switch v.Role {
			case config.RoleContinuous:
				value, err := parseValue(cell)
				if err != nil {
					return nil, errors.NewInvalidInputError("line %d column %s: non-numeric value %q", line, v.Name, cell)
				}
				continuous[v.Name] = value
			case config.RoleCategorical:
				categorical[v.Name] = cell
			}
		}
		if err := ds.AppendRow(continuous, categorical); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func parseValue(cell string) (float64, error) {
	if cell == "" || cell == constants.MissingValueLiteral {
		return math.NaN(), nil
	}
	value, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("non-finite value %q", cell)
	}
	return value, nil
}

// WriteCSV writes the dataset with columns in schema order. Missing values are written as NA.
func WriteCSV(ctx context.Context, w io.Writer, ds *Dataset) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	names := ds.Schema.Names()
	if err := writer.Write(names); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	row := make([]string, len(names))
	for i := 0; i < ds.Rows(); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for j, v := range ds.Schema.Variables {
			switch v.Role {
			case config.RoleContinuous:
				row[j] = FormatValue(ds.Continuous[v.Name][i])
			case config.RoleCategorical:
				row[j] = ds.Categorical[v.Name][i]
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// FormatValue renders a float for CSV output, NA for NaN.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return constants.MissingValueLiteral
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
