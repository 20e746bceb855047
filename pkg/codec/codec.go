// Package codec encodes and decodes spec documents as JSON or YAML.
//
// JSON input may carry comments and trailing commas; it is normalized with jsonc before decoding.
// Files select their format by extension. Files without an extension are decoded by trying JSON
// first and YAML second, and any other extension is rejected.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/frkl/viva/pkg/engine"
)

// Format is a supported document encoding.
type Format string

const (
	// FormatAuto means the format is detected from content when decoding.
	FormatAuto Format = ""
	// FormatJSON is JSON, with comments and trailing commas tolerated on input.
	FormatJSON Format = "json"
	// FormatYAML is YAML 1.2.
	FormatYAML Format = "yaml"
)

// Extensions lists the recognized file extensions in lookup priority order.
var Extensions = []string{".json", ".yaml", ".yml"}

// Ext returns the canonical file extension for f.
func (f Format) Ext() string {
	switch f {
	case FormatYAML:
		return ".yaml"
	default:
		return ".json"
	}
}

// ParseFormat parses a format name as used in configuration.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return FormatAuto, engine.NewUnsupportedFormatError(fmt.Sprintf("unknown format '%s'", s))
	}
}

// FormatForPath returns the format implied by path's extension.
// A path without an extension yields FormatAuto; an unrecognized extension is an UnsupportedFormat error.
func FormatForPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case "":
		return FormatAuto, nil
	default:
		return FormatAuto, engine.NewUnsupportedFormatError(fmt.Sprintf("unsupported file extension '%s'", ext)).WithPath(path)
	}
}

// Encode serializes v in the given format. FormatAuto encodes JSON.
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// Decode parses data in the given format. FormatAuto delegates to DecodeAuto.
func Decode[T any](format Format, data []byte) (T, error) {
	var v T
	switch format {
	case FormatJSON:
		if err := decodeJSON(data, &v); err != nil {
			return v, engine.NewParseError("invalid json document", err)
		}
		return v, nil
	case FormatYAML:
		if err := decodeYAML(data, &v); err != nil {
			return v, engine.NewParseError("invalid yaml document", err)
		}
		return v, nil
	default:
		v, _, err := DecodeAuto[T](data)
		return v, err
	}
}

// DecodeAuto tries JSON, then YAML. If both fail the ParseError carries both causes.
func DecodeAuto[T any](data []byte) (T, Format, error) {
	var fromJSON T
	jsonErr := decodeJSON(data, &fromJSON)
	if jsonErr == nil {
		return fromJSON, FormatJSON, nil
	}

	var fromYAML T
	yamlErr := decodeYAML(data, &fromYAML)
	if yamlErr == nil {
		return fromYAML, FormatYAML, nil
	}

	var zero T
	return zero, FormatAuto, engine.NewParseError("document is neither json nor yaml",
		fmt.Errorf("json: %w", jsonErr), fmt.Errorf("yaml: %w", yamlErr))
}

// ReadFile decodes the document at path, choosing the format from its extension.
// Parse errors name the offending path.
func ReadFile[T any](path string) (T, error) {
	var zero T
	format, err := FormatForPath(path)
	if err != nil {
		return zero, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return zero, engine.NewIOError("failed to read spec file", err).WithPath(path)
	}

	v, err := Decode[T](format, data)
	if err != nil {
		var e *engine.Error
		if errors.As(err, &e) {
			return zero, e.WithPath(path)
		}
		return zero, err
	}
	return v, nil
}

// WriteFile encodes v in the format implied by path and replaces path atomically.
// Paths without an extension are written as JSON.
func WriteFile(path string, v any) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}

	data, err := Encode(format, v)
	if err != nil {
		return err
	}

	if err := writeAtomic(path, data); err != nil {
		return engine.NewIOError("failed to write spec file", err).WithPath(path)
	}
	return nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after json document")
	}
	return nil
}

func decodeYAML(data []byte, v any) error {
	// An empty document decodes to the zero value.
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
