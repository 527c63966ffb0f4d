package delegation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Output formats for a Synthesis.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode serializes the synthesis in the given format.
func (s *Synthesis) Encode(format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(s, "", "  ")
	case FormatYAML:
		return yaml.Marshal(s)
	default:
		return nil, fmt.Errorf("unsupported synthesis format %q", format)
	}
}

// DecodeSynthesis parses data produced by Encode.
func DecodeSynthesis(data []byte, format string) (Synthesis, error) {
	var s Synthesis
	var err error
	switch format {
	case FormatJSON, "":
		err = json.Unmarshal(data, &s)
	case FormatYAML:
		err = yaml.Unmarshal(data, &s)
	default:
		err = fmt.Errorf("unsupported synthesis format %q", format)
	}
	return s, err
}

// FileName returns the conventional file name for the synthesis.
func (s *Synthesis) FileName(format string) string {
	if format == "" {
		format = FormatJSON
	}
	return fmt.Sprintf("synthesis-%s.%s", s.SessionID, format)
}

// WriteFile writes the synthesis to path. The write is atomic: data goes to
// a temporary file first and is then renamed into place.
func (s *Synthesis) WriteFile(path, format string) error {
	data, err := s.Encode(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
