package dataset

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

func schema() config.Schema {
	return config.Schema{Variables: []config.Variable{
		{Name: "sex", Role: config.RoleCategorical},
		{Name: "age", Role: config.RoleContinuous, Transform: true},
		{Name: "sbp", Role: config.RoleContinuous},
	}}
}

func TestReadCSV(t *testing.T) {
	in := "id,sbp,age,sex\n1,120,54.5,F\n2,NA,61,M\n3,,70, M \n"
	ds, err := ReadCSV(context.Background(), strings.NewReader(in), schema())
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Rows())
	assert.Equal(t, []string{"F", "M", "M"}, ds.Categorical["sex"])
	assert.Equal(t, []float64{54.5, 61, 70}, ds.Continuous["age"])
	assert.Equal(t, 120.0, ds.Continuous["sbp"][0])
	assert.True(t, math.IsNaN(ds.Continuous["sbp"][1]))
	assert.True(t, math.IsNaN(ds.Continuous["sbp"][2]))
}

func TestReadCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "sex,age\nF,1\n",
		"non-numeric":    "sex,age,sbp\nF,old,120\n",
		"infinite":       "sex,age,sbp\nF,Inf,120\n",
		"ragged":         "sex,age,sbp\nF,1\n",
		"empty":          "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(in), schema())
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestReadCSVCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader("sex,age,sbp\nF,1,2\n"), schema())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	ds := New(schema())
	require.NoError(t, ds.AppendRow(map[string]float64{"age": 40.25, "sbp": math.NaN()}, map[string]string{"sex": "F"}))
	require.NoError(t, ds.AppendRow(map[string]float64{"age": 1e-7, "sbp": 130}, map[string]string{"sex": "M"}))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(context.Background(), &buf, ds))
	assert.Equal(t, "sex,age,sbp\nF,40.25,NA\nM,1e-07,130\n", buf.String())

	back, err := ReadCSV(context.Background(), &buf, schema())
	require.NoError(t, err)
	assert.Equal(t, ds.Categorical, back.Categorical)
	assert.Equal(t, ds.Continuous["age"], back.Continuous["age"])
}

func TestAppend(t *testing.T) {
	a := New(schema())
	require.NoError(t, a.AppendRow(map[string]float64{"age": 1, "sbp": 2}, map[string]string{"sex": "F"}))
	b := New(schema())
	require.NoError(t, b.AppendRow(map[string]float64{"age": 3, "sbp": 4}, map[string]string{"sex": "M"}))

	require.NoError(t, a.Append(b))
	assert.Equal(t, 2, a.Rows())
	assert.Equal(t, []float64{1, 3}, a.Continuous["age"])

	err := a.AppendRow(map[string]float64{"age": 1}, map[string]string{"sex": "F"})
	assert.Error(t, err)
}
