package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(GetSchemaID())
	schema.Title = "Schema Studio Plugin Manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema validates YAML data against the plugin manifest JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code("VALIDATION_FAILED").Errorf("manifest data is empty")
	}

	// Parse YAML to generic interface for validation
	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code("VALIDATION_FAILED").Wrapf(err, "invalid YAML")
	}

	sch, err := getCompiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(convertToJSONTypes(yamlData)); err != nil {
		return oops.Code("VALIDATION_FAILED").Wrapf(err, "schema validation failed")
	}

	return nil
}

// getCompiledSchema returns the cached compiled schema or compiles it.
func getCompiledSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	schemaData, err := jschema.UnmarshalJSON(strings.NewReader(string(schemaBytes)))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrapf(err, "parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("plugin.schema.json", schemaData); err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrapf(err, "add schema resource")
	}

	sch, err := c.Compile("plugin.schema.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrapf(err, "compile schema")
	}

	schemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible types,
// recursing through maps and slices.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case string:
		return val
	case map[any]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[fmt.Sprint(k)] = convertToJSONTypes(v)
		}
		return result
	case int:
		return val
	case int64:
		return val
	case float64:
		return val
	case bool:
		return val
	case nil:
		return nil
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

// ResetSchemaCache clears the cached schema. Used for testing.
func ResetSchemaCache() {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaCache = nil
}

// GetSchemaID returns the schema $id for use in plugin.yaml files.
func GetSchemaID() string {
	return "https://schemastudio.dev/schemas/plugin.schema.json"
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
