package scenario

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultFiles embed.FS

// ParseScenario parses and validates a scenario from YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.ID == "" {
		return &LoadError{Message: "scenario ID is required"}
	}
	if len(sc.Steps) == 0 {
		return &LoadError{Message: "scenario must have at least one step"}
	}

	for i, st := range sc.Steps {
		switch st.Kind {
		case StepOTA:
			if st.Node == "" {
				return stepError(i, "ota step requires node")
			}
			if st.Artifact == "" {
				return stepError(i, "ota step requires artifact")
			}
		case StepDFU:
			if st.Serial == "" {
				return stepError(i, "dfu step requires serial")
			}
			if st.Version <= 0 {
				return stepError(i, "dfu step requires a positive version")
			}
			switch st.ExpectSkip {
			case "", "backlog", "battery":
			default:
				return stepError(i, fmt.Sprintf("unknown expect_skip %q", st.ExpectSkip))
			}
		default:
			return stepError(i, fmt.Sprintf("unknown step kind %q", st.Kind))
		}
	}
	return nil
}

// LoadScenario loads a scenario from a file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}
	return parseFile(path, data)
}

func parseFile(name string, data []byte) (*Scenario, error) {
	sc, err := ParseScenario(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = name
			return nil, le
		}
		return nil, &LoadError{File: name, Message: err.Error()}
	}
	return sc, nil
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDirectory loads every .yaml or .yml scenario in dir, sorted by file name.
// Subdirectories are ignored.
func LoadDirectory(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{
			File:    dir,
			Message: "failed to read directory",
			Cause:   err,
		}
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}
		sc, err := LoadScenario(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// Defaults returns the built-in scenarios: the OTA happy flow on MOXA_ABC33
// and the Canary_A DFU battery and backlog check.
func Defaults() ([]*Scenario, error) {
	return loadFS(defaultFiles, "defaults")
}

func loadFS(fsys fs.FS, dir string) ([]*Scenario, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &LoadError{File: dir, Message: "failed to read directory", Cause: err}
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}
		name := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, &LoadError{File: name, Message: "failed to read file", Cause: err}
		}
		sc, err := parseFile(name, data)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}
