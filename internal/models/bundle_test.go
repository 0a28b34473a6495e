package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountRoundTrip(t *testing.T) {
	tests := []struct {
		count Count
		text  string
	}{
		{Count{N: 42}, "42"},
		{Count{N: 0}, "0"},
		{SuppressedCount(10), "≤10"},
		{SuppressedCount(5), "≤5"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.count.String())
			got, err := ParseCount(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.count, got)
		})
	}
}

func TestCountBound(t *testing.T) {
	assert.Equal(t, 10, Count{Suppressed: true}.Bound())
	assert.Equal(t, "≤10", Count{Suppressed: true}.String())
	assert.Equal(t, 3, SuppressedCount(3).Bound())
}

func TestParseCountRejects(t *testing.T) {
	for _, s := range []string{"", "-1", "<5", "≤", "≤0", "≤x", "4.5"} {
		_, err := ParseCount(s)
		assert.Error(t, err, s)
	}
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("age__bmi")
	require.NoError(t, err)
	assert.Equal(t, Pair{A: "age", B: "bmi"}, p)
	assert.Equal(t, "age__bmi", p.Column())

	for _, column := range []string{"age", "age__", "__bmi", "a__b__c"} {
		_, err := ParsePair(column)
		assert.Error(t, err, column)
	}
}

func TestPairs(t *testing.T) {
	assert.Equal(t, []Pair{{"a", "b"}, {"a", "c"}, {"b", "c"}}, Pairs([]string{"a", "b", "c"}))
	assert.Empty(t, Pairs([]string{"a"}))
}
