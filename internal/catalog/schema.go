package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jobsSchema describes jobs.json. Unknown keys are rejected.
const jobsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["jobs", "application", "extra_options"],
  "additionalProperties": false,
  "properties": {
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["test_name", "browsertime_json_path", "extra_options", "accept_zero_vismet"],
        "additionalProperties": false,
        "properties": {
          "test_name": {"type": "string"},
          "browsertime_json_path": {"type": "string"},
          "extra_options": {"type": "array", "items": {"type": "string"}},
          "accept_zero_vismet": {"type": "boolean"}
        }
      }
    },
    "application": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "version": {"type": "string"}
      }
    },
    "extra_options": {"type": "array", "items": {"type": "string"}}
  }
}`

// browsertimeSchema is a partial description of browsertime.json. Only the
// video list is required; everything else browsertime writes is allowed.
const browsertimeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["files"],
    "properties": {
      "files": {
        "type": "object",
        "required": ["video"],
        "properties": {
          "video": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var errSchemaFailed = errors.New("document does not match schema")

// schemaValidator validates raw JSON documents against one compiled schema.
type schemaValidator struct {
	name   string
	schema *gojsonschema.Schema
}

func newSchemaValidator(name, source string) (*schemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", name, err)
	}

	return &schemaValidator{name: name, schema: schema}, nil
}

func (v *schemaValidator) validate(doc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validating %s: %w", v.name, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s: %s", errSchemaFailed, v.name, strings.Join(details, "; "))
}
