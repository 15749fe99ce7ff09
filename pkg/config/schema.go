package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
)

const durationPattern = `^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// schema rejects unknown keys and obviously mistyped values in the config file
var schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["console", "json"]},
        "output_file": {"type": "string"}
      }
    },
    "generator": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "timeout": {"type": "string", "pattern": "` + durationPattern + `"},
        "wait_delay": {"type": "string", "pattern": "` + durationPattern + `"},
        "launcher": {"type": "string"}
      }
    },
    "project": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "descriptor_cache_size": {"type": "integer", "minimum": 1},
        "env_file": {"type": "string"}
      }
    },
    "tracing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "exporter": {"type": "string", "enum": ["stdout", "otlp", "jaeger"]},
        "endpoint": {"type": "string"},
        "sampling_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "watch": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "debounce": {"type": "string", "pattern": "` + durationPattern + `"}
      }
    }
  }
}`

// ValidateFile checks a YAML config file against the schema. Files with other extensions
// are left to viper.
func ValidateFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to read config file", err)
	}
	return ValidateYAML(data)
}

// ValidateYAML checks YAML config content against the schema
func ValidateYAML(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to parse config file", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return common.WrapFixerError(common.ErrCodeConfigInvalid, "config validation failed", err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}
		return common.NewFixerError(
			common.ErrCodeConfigInvalid,
			fmt.Sprintf("config file has errors: %s", strings.Join(errors, "; ")),
			"",
		)
	}

	return nil
}
