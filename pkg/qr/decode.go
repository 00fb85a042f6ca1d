package qr

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const payloadSchemaURL = "https://herbionyx.schemas.local/qr/payload.schema.json"

// payloadSchema constrains field types only. Presence of the required
// fields and the network tag are checked separately so each failure
// surfaces as its own error kind.
const payloadSchema = `{
  "type": "object",
  "required": ["id", "type", "network"],
  "properties": {
    "id":        {"type": "string", "minLength": 1},
    "type":      {"enum": ["collection", "quality-test", "processing", "manufacturing", "final-product", "unknown"]},
    "batchId":   {"type": "string"},
    "timestamp": {"type": "string"},
    "network":   {"type": "string"},
    "version":   {"type": "string"}
  }
}`

// SupportedVersions is the payload version range Decode accepts.
const SupportedVersions = "^1.0"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error

	versionCheck = mustConstraint(SupportedVersions)
)

func mustConstraint(c string) *semver.Constraints {
	parsed, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("qr: bad version constraint %q: %v", c, err))
	}
	return parsed
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(payloadSchemaURL, strings.NewReader(payloadSchema)); err != nil {
			schemaErr = fmt.Errorf("qr schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(payloadSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("qr schema compile failed: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

var requiredFields = []string{"id", "type", "network"}

// Decode parses a scanned payload string. It fails with *ParseError when
// the string is not JSON, *StructureError when id, type or network is
// absent or a field has the wrong shape, and *NetworkMismatchError when
// the network tag is not herbionyx. A successful decode returns the
// payload exactly as encoded.
func Decode(s string) (Payload, error) {
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Payload{}, &ParseError{Err: err}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return Payload{}, &StructureError{Reason: "payload is not a JSON object"}
	}

	var missing []string
	for _, field := range requiredFields {
		if isBlank(obj[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Payload{}, &StructureError{Missing: missing}
	}

	// A foreign code is reported as such whatever else is wrong with it.
	if network, ok := obj["network"].(string); ok && network != Network {
		return Payload{}, &NetworkMismatchError{Got: network}
	}

	sch, err := compiledSchema()
	if err != nil {
		return Payload{}, err
	}
	if err := sch.Validate(obj); err != nil {
		return Payload{}, &StructureError{Reason: "schema validation failed", Err: err}
	}

	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, &ParseError{Err: err}
	}

	if p.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, p.Timestamp); err != nil {
			return Payload{}, &StructureError{Reason: fmt.Sprintf("timestamp %q is not RFC 3339", p.Timestamp), Err: err}
		}
	}
	if p.Version != "" {
		if err := checkVersion(p.Version); err != nil {
			return Payload{}, err
		}
	}
	return p, nil
}

func checkVersion(v string) error {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return &StructureError{Reason: fmt.Sprintf("version %q is not a semantic version", v), Err: err}
	}
	if !versionCheck.Check(parsed) {
		return &StructureError{Reason: fmt.Sprintf("version %s outside supported range %s", v, SupportedVersions)}
	}
	return nil
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}
