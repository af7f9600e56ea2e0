package perfherder

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is returned when a report does not conform to the
// performance artifact schema.
var ErrSchemaViolation = errors.New("report violates performance artifact schema")

//go:embed schema.json
var embeddedSchema []byte

// Validator checks documents against the performance artifact schema.
type Validator struct {
	schema *gojsonschema.Schema
	source string
}

// NewValidator loads the schema at path, falling back to the embedded copy
// when the file does not exist.
func NewValidator(path string) (*Validator, error) {
	data, source := embeddedSchema, "embedded"

	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // schema path is operator supplied
		switch {
		case err == nil:
			data, source = raw, path
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading schema %s: %w", path, err)
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compiling schema from %s: %w", source, err)
	}

	return &Validator{schema: schema, source: source}, nil
}

// Source names where the schema was loaded from.
func (v *Validator) Source() string {
	return v.source
}

// Validate checks a JSON document.
func (v *Validator) Validate(doc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
}
