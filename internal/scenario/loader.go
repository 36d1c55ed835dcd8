package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// FieldError is a validation problem on one scenario field
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects every field error of a scenario
type MultiError []FieldError

func (m MultiError) Error() string {
	msgs := make([]string, 0, len(m))
	for _, err := range m {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks struct tags and the per-kind step requirements
func Validate(sc Scenario) error {
	var fieldErrors MultiError

	if err := validate.Struct(sc); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return err
		}
		for _, e := range validationErrs {
			var message string
			switch e.Tag() {
			case "required":
				message = "is required"
			case "min":
				message = fmt.Sprintf("must have at least %s entries", e.Param())
			case "oneof":
				message = fmt.Sprintf("must be one of %s", e.Param())
			case "gte":
				message = fmt.Sprintf("must be >= %s", e.Param())
			default:
				message = "is invalid"
			}
			fieldErrors = append(fieldErrors, FieldError{Field: e.Namespace(), Message: message})
		}
	}

	for i, step := range sc.Steps {
		if step.Kind == "" {
			continue
		}
		if err := step.Check(); err != nil {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   fmt.Sprintf("Scenario.Steps[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if len(fieldErrors) > 0 {
		return fieldErrors
	}
	return nil
}

// Decode reads every YAML document from r as one scenario
func Decode(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Scenario
	for {
		var sc Scenario
		err := dec.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := Validate(sc); err != nil {
			name := sc.Name
			if name == "" {
				name = fmt.Sprintf("document %d", len(out)+1)
			}
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadFile reads and validates a scenario catalogue from a YAML file
func LoadFile(path string) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()

	scenarios, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return scenarios, nil
}

// LoadDir loads every .yaml/.yml file in dir in name order. Scenario names
// must be unique across the directory.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	seen := make(map[string]string)
	var out []Scenario
	for _, file := range files {
		scenarios, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenarios {
			if prev, ok := seen[sc.Name]; ok {
				return nil, fmt.Errorf("duplicate scenario %q in %s and %s", sc.Name, filepath.Base(prev), filepath.Base(file))
			}
			seen[sc.Name] = file
			out = append(out, sc)
		}
	}
	return out, nil
}
