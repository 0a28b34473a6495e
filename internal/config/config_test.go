package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

const sampleConfig = `
seed: 99
workers: 3
schema:
  variables:
    - name: arm
      role: categorical
    - name: age
      role: continuous
      transform: true
summary:
  quantile_cap: 12
disclosure:
  small_cell: 5
storage:
  backend: sql
  driver: sqlite
  dsn: ":memory:"
log:
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ipdsynth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, uint64(99), cfg.Seed)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 12, cfg.Summary.QuantileCap)
	assert.Equal(t, constants.DefaultCurveStep, cfg.Summary.CurveStep)
	assert.Equal(t, 5, cfg.Disclosure.SmallCell)
	assert.Equal(t, constants.DefaultCorrMinN, cfg.Disclosure.CorrMinN)
	assert.Equal(t, constants.StorageBackendSQL, cfg.Storage.Backend)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, constants.DefaultLogLevel, cfg.Log.Level)

	require.Len(t, cfg.Schema.Variables, 2)
	assert.True(t, cfg.Schema.Variables[1].Transform)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("IPDSYNTH_SUMMARY_QUANTILE_CAP", "7")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Summary.QuantileCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Schema = Schema{Variables: []Variable{{Name: "x", Role: RoleContinuous}}}
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"quantile cap":  func(c *Config) { c.Summary.QuantileCap = 1 },
		"curve step":    func(c *Config) { c.Summary.CurveStep = 1 },
		"epsilon range": func(c *Config) { c.Summary.EpsilonMax = c.Summary.EpsilonStart / 2 },
		"jitter":        func(c *Config) { c.Disclosure.JitterLow = 0 },
		"round digits":  func(c *Config) { c.Disclosure.RoundDigits = -1 },
		"backend":       func(c *Config) { c.Storage.Backend = "influxdb" },
		"empty schema":  func(c *Config) { c.Schema = Schema{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfiguration)
		})
	}
}

func TestSchemaValidate(t *testing.T) {
	cases := map[string][]Variable{
		"duplicate":             {{Name: "x", Role: RoleContinuous}, {Name: "x", Role: RoleCategorical}},
		"unnamed":               {{Role: RoleContinuous}},
		"unknown role":          {{Name: "x", Role: "ordinal"}},
		"transformed category":  {{Name: "g", Role: RoleCategorical, Transform: true}, {Name: "x", Role: RoleContinuous}},
		"no continuous columns": {{Name: "g", Role: RoleCategorical}},
		"pair separator":        {{Name: "age__bmi", Role: RoleContinuous}},
		"leading separator":     {{Name: "__x", Role: RoleContinuous}},
		"comma":                 {{Name: "g", Role: RoleCategorical}, {Name: "dose,mg", Role: RoleContinuous}},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Schema{Variables: vars}.Validate(), errors.ErrInvalidConfiguration)
		})
	}
}

func TestSchemaValidateAcceptsSingleUnderscores(t *testing.T) {
	vars := []Variable{{Name: "treatment_arm", Role: RoleCategorical}, {Name: "age_years", Role: RoleContinuous}}
	assert.NoError(t, Schema{Variables: vars}.Validate())
}

func TestSchemaAccessors(t *testing.T) {
	s := Schema{Variables: []Variable{
		{Name: "g", Role: RoleCategorical},
		{Name: "x", Role: RoleContinuous},
		{Name: "h", Role: RoleCategorical},
	}}
	assert.Equal(t, []string{"g", "x", "h"}, s.Names())
	assert.Equal(t, []string{"g", "h"}, VariableNames(s.Categorical()))
	assert.Equal(t, []string{"x"}, VariableNames(s.Continuous()))

	v, err := s.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, RoleContinuous, v.Role)
	_, err = s.Lookup("y")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, "warning", logger.GetLevel().String())

	cfg.Log.Level = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
