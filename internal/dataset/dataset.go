// Package dataset holds the in-memory IPD table and its CSV codec.
package dataset

import (
	"fmt"

	"github.com/inferloop/ipdsynth/internal/config"
)

// Dataset is a column-oriented IPD table laid out by a schema. Continuous columns hold
// NaN for missing values; categorical columns hold the raw level strings.
type Dataset struct {
	Schema      config.Schema
	Continuous  map[string][]float64
	Categorical map[string][]string
	rows        int
}

// New creates an empty dataset for schema.
func New(schema config.Schema) *Dataset {
	ds := &Dataset{
		Schema:      schema,
		Continuous:  make(map[string][]float64),
		Categorical: make(map[string][]string),
	}
	for _, v := range schema.Variables {
		switch v.Role {
		case config.RoleContinuous:
			ds.Continuous[v.Name] = nil
		case config.RoleCategorical:
			ds.Categorical[v.Name] = nil
		}
	}
	return ds
}

// Rows returns the number of records.
func (d *Dataset) Rows() int {
	return d.rows
}

// AppendRow adds one record. Both maps must carry every schema variable of their role.
func (d *Dataset) AppendRow(continuous map[string]float64, categorical map[string]string) error {
	for _, v := range d.Schema.Variables {
		switch v.Role {
		case config.RoleContinuous:
			value, ok := continuous[v.Name]
			if !ok {
				return fmt.Errorf("row %d: missing continuous variable %s", d.rows, v.Name)
			}
			d.Continuous[v.Name] = append(d.Continuous[v.Name], value)
		case config.RoleCategorical:
			value, ok := categorical[v.Name]
			if !ok {
				return fmt.Errorf("row %d: missing categorical variable %s", d.rows, v.Name)
			}
			d.Categorical[v.Name] = append(d.Categorical[v.Name], value)
		}
	}
	d.rows++
	return nil
}

// Append concatenates other onto d; both must share the schema.
func (d *Dataset) Append(other *Dataset) error {
	for name := range d.Continuous {
		col, ok := other.Continuous[name]
		if !ok {
			return fmt.Errorf("append: continuous variable %s missing", name)
		}
		d.Continuous[name] = append(d.Continuous[name], col...)
	}
	for name := range d.Categorical {
		col, ok := other.Categorical[name]
		if !ok {
			return fmt.Errorf("append: categorical variable %s missing", name)
		}
		d.Categorical[name] = append(d.Categorical[name], col...)
	}
	d.rows += other.rows
	return nil
}
