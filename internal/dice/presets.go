package dice

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// DefaultPreset is the calibration used when no preset is named.
const DefaultPreset = "dice2007"

type presetFile struct {
	Description string             `yaml:"description"`
	Initial     map[string]float64 `yaml:"initial"`
	Overrides   `yaml:",inline"`
}

// Preset returns the overrides stored under name.
func Preset(name string) (Overrides, error) {
	f, err := loadPreset(name)
	if err != nil {
		return Overrides{}, err
	}
	return f.Overrides, nil
}

// PresetInitial returns the initial conditions a preset sets, by machine
// name. Presets without stocks of their own return an empty map.
func PresetInitial(name string) (map[string]float64, error) {
	f, err := loadPreset(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(f.Initial))
	for k, v := range f.Initial {
		out[k] = v
	}
	return out, nil
}

// PresetDescription returns the one-line summary of a preset.
func PresetDescription(name string) (string, error) {
	f, err := loadPreset(name)
	if err != nil {
		return "", err
	}
	return f.Description, nil
}

func loadPreset(name string) (*presetFile, error) {
	data, err := presetFS.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		names, listErr := Presets()
		if listErr != nil {
			return nil, configErrorf("preset", "%q not found: %v", name, listErr)
		}
		return nil, configErrorf("preset", "%q not found (available: %s)", name, strings.Join(names, ", "))
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preset %q: %w", name, err)
	}
	return &f, nil
}

// Presets returns the names of the embedded presets, sorted.
func Presets() ([]string, error) {
	return presetNames(presetFS)
}

func presetNames(fsys fs.ReadDirFS) ([]string, error) {
	entries, err := fsys.ReadDir("presets")
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}
