package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// LoadError reports a specification file that could not be decoded.
type LoadError struct {
	File    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// LoadFile reads a complete specification from a .cue, .yaml/.yml or .json
// file. The format is chosen by extension.
func LoadFile(path string) (Specification, error) {
	var spec Specification
	if err := decodeFile(path, &spec); err != nil {
		return Specification{}, err
	}
	spec.normalize()
	return spec, nil
}

// LoadUpdateFile reads a specification update from a file.
func LoadUpdateFile(path string) (SpecificationUpdate, error) {
	var update SpecificationUpdate
	if err := decodeFile(path, &update); err != nil {
		return SpecificationUpdate{}, err
	}
	return update, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read specification: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return decodeCUE(data, path, out)
	case ".yaml", ".yml":
		return decodeYAML(data, path, out)
	case ".json":
		return decodeJSON(data, path, out)
	default:
		return &LoadError{File: path, Message: "unsupported file extension, expected .cue, .yaml, .yml or .json"}
	}
}

// LoadCUE decodes a specification update written in CUE.
func LoadCUE(data []byte, filename string) (SpecificationUpdate, error) {
	var update SpecificationUpdate
	err := decodeCUE(data, filename, &update)
	return update, err
}

// LoadYAML decodes a specification update written in YAML.
func LoadYAML(data []byte) (SpecificationUpdate, error) {
	var update SpecificationUpdate
	err := decodeYAML(data, "", &update)
	return update, err
}

// LoadJSON decodes a specification update written in JSON.
func LoadJSON(data []byte) (SpecificationUpdate, error) {
	var update SpecificationUpdate
	err := decodeJSON(data, "", &update)
	return update, err
}

// decodeCUE evaluates CUE source and decodes the concrete result. CUE is
// exported to JSON first so unknown keys are rejected the same way for
// every format.
func decodeCUE(data []byte, filename string, out any) error {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return formatCUEError(err, filename)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err, filename)
	}
	jsonData, err := v.MarshalJSON()
	if err != nil {
		return formatCUEError(err, filename)
	}
	return decodeJSON(jsonData, filename, out)
}

func decodeYAML(data []byte, filename string, out any) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &LoadError{File: filename, Message: fmt.Sprintf("parse YAML: %v", err)}
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return &LoadError{File: filename, Message: fmt.Sprintf("convert YAML: %v", err)}
	}
	return decodeJSON(jsonData, filename, out)
}

func decodeJSON(data []byte, filename string, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &LoadError{File: filename, Message: fmt.Sprintf("decode specification: %v", err)}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error, filename string) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{File: filename, Message: err.Error()}
	}

	// Return first error with position info
	firstErr := errs[0]
	if positions := errors.Positions(firstErr); len(positions) > 0 {
		return &LoadError{File: filename, Message: firstErr.Error(), Pos: positions[0]}
	}
	return &LoadError{File: filename, Message: firstErr.Error()}
}
