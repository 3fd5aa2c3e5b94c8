// Package csvio reads driver input files and writes state sequences as CSV.
//
// An input file holds one `key,value[,value...]` row per setting. Keys are
// the machine names of scalar parameters, exogenous paths, initial
// conditions and a few driver settings:
//
//	preset,stern
//	mode,optimize
//	prstp,0.01
//	population,6514,6900,...      (horizon+1 values)
//	capital_init,137
//	miu_path,0.1,0.2,...          (horizon values)
//	e2050,0.2                     (treaty cut, enables the treaty)
//
// Empty lines and lines starting with '#' are ignored, as is a leading
// `key,value` header.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
)

// Driver keys besides the model machine names.
const (
	KeyPreset       = "preset"
	KeyMode         = "mode"
	KeyHorizon      = "horizon"
	KeyDamagesModel = "damages_model"
	KeyCalibration  = "calibration"
	KeySCC          = "scc"
	KeySavingsPath  = "savings_path"
	KeyMiuPath      = "miu_path"
	KeyCarbonTax    = "carbon_tax"
	KeyTreaty       = "treaty"
)

// ReadInput applies every row of r to cfg. Rows later in the file win over
// earlier ones; values already in cfg are kept unless a row replaces them.
func ReadInput(r io.Reader, cfg *config.Config) error {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &dice.ConfigurationError{Field: "input", Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		key := strings.TrimSpace(rec[0])
		if key == "" {
			continue
		}
		if first && strings.EqualFold(key, "key") {
			continue
		}
		if err := applyRow(cfg, key, rec[1:]); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func applyRow(cfg *config.Config, key string, fields []string) error {
	fields = trimTrailingEmpty(fields)

	switch key {
	case KeyPreset:
		s, err := single(key, fields)
		cfg.Preset = s
		return err
	case KeyMode:
		s, err := single(key, fields)
		cfg.Mode = s
		return err
	case KeyDamagesModel:
		s, err := single(key, fields)
		cfg.Model.DamagesModel = s
		return err
	case KeyCalibration:
		s, err := single(key, fields)
		cfg.Model.Calibration = s
		return err
	case KeySCC:
		b, err := boolean(key, fields)
		if err != nil {
			return err
		}
		cfg.SCC = b
		return nil
	case KeyTreaty:
		b, err := boolean(key, fields)
		if err != nil {
			return err
		}
		if !b {
			cfg.Controls.Treaty = nil
		} else if cfg.Controls.Treaty == nil {
			tr := dice.DefaultTreaty()
			cfg.Controls.Treaty = &tr
		}
		return nil
	case KeyHorizon:
		v, err := scalar(key, fields)
		if err != nil {
			return err
		}
		if v != float64(int(v)) || v < 1 {
			return &dice.ConfigurationError{Field: key, Reason: fmt.Sprintf("must be a positive integer, got %g", v)}
		}
		cfg.Horizon = int(v)
		return nil
	case KeySavingsPath, KeyMiuPath, KeyCarbonTax:
		values, err := floats(key, fields)
		if err != nil {
			return err
		}
		switch key {
		case KeySavingsPath:
			cfg.Controls.SavingsPath = values
		case KeyMiuPath:
			cfg.Controls.MiuPath = values
		default:
			cfg.Controls.CarbonTax = values
		}
		return nil
	}

	switch {
	case dice.IsScalarKey(key):
		v, err := scalar(key, fields)
		if err != nil {
			return err
		}
		if cfg.Model.Scalars == nil {
			cfg.Model.Scalars = make(map[string]float64)
		}
		cfg.Model.Scalars[key] = v
	case dice.IsPathKey(key):
		values, err := floats(key, fields)
		if err != nil {
			return err
		}
		if cfg.Model.Paths == nil {
			cfg.Model.Paths = make(map[string][]float64)
		}
		cfg.Model.Paths[key] = values
	case dice.IsTreatyKey(key):
		v, err := scalar(key, fields)
		if err != nil {
			return err
		}
		if cfg.Controls.Treaty == nil {
			tr := dice.DefaultTreaty()
			cfg.Controls.Treaty = &tr
		}
		return cfg.Controls.Treaty.Set(key, v)
	case dice.IsInitialKey(key):
		v, err := scalar(key, fields)
		if err != nil {
			return err
		}
		if cfg.Initial == nil {
			cfg.Initial = make(map[string]float64)
		}
		cfg.Initial[key] = v
	default:
		return &dice.ConfigurationError{Field: key, Reason: "unknown key"}
	}
	return nil
}

func single(key string, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", &dice.ConfigurationError{Field: key, Reason: fmt.Sprintf("takes one value, got %d", len(fields))}
	}
	return strings.TrimSpace(fields[0]), nil
}

func boolean(key string, fields []string) (bool, error) {
	s, err := single(key, fields)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &dice.ConfigurationError{Field: key, Reason: fmt.Sprintf("%q is not a boolean", s)}
	}
	return b, nil
}

func scalar(key string, fields []string) (float64, error) {
	s, err := single(key, fields)
	if err != nil {
		return 0, err
	}
	return parseFloat(key, 0, s)
}

func floats(key string, fields []string) ([]float64, error) {
	if len(fields) == 0 {
		return nil, &dice.ConfigurationError{Field: key, Reason: "has no values"}
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(key, i, strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloat(key string, i int, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &dice.ConfigurationError{Field: key, Reason: fmt.Sprintf("value %d: %q is not a number", i, s)}
	}
	return v, nil
}

// trimTrailingEmpty drops empty cells spreadsheet exports leave at the end
// of short rows.
func trimTrailingEmpty(fields []string) []string {
	for len(fields) > 0 && strings.TrimSpace(fields[len(fields)-1]) == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}
