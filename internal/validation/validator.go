// Package validation checks exported canvas documents before they are imported.
package validation

import "github.com/rendis/flowarch/pkg/schema"

// Validator checks a serialized canvas document and decodes it when valid.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateSnapshot(data []byte) error
	DecodeSnapshot(data []byte) (schema.Snapshot, error)
}
