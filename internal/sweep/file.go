package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/timmy/sweepd/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a sweep definition from a YAML or JSON file.
// The format follows the extension; anything other than .json is read as YAML.
func LoadFile(path string) (domain.SweepDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SweepDefinition{}, fmt.Errorf("failed to read sweep file: %w", err)
	}
	def, err := ParseDefinition(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return domain.SweepDefinition{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes a sweep definition. Omitted base configuration
// fields take their defaults. YAML input rejects unknown keys.
func ParseDefinition(data []byte, isJSON bool) (domain.SweepDefinition, error) {
	var def domain.SweepDefinition
	if isJSON {
		err := json.Unmarshal(data, &def)
		return def, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return def, err
	}
	return def, nil
}
