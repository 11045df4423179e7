package automations

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadSeedFile reads automation definitions from a YAML file. The YAML is
// decoded generically and re-parsed through the JSON codec so the tagged
// action encoding behaves identically in both formats.
func LoadSeedFile(path string) ([]Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting seed file: %w", err)
	}
	var autos []Automation
	if err := json.Unmarshal(buf, &autos); err != nil {
		return nil, fmt.Errorf("decoding seed automations: %w", err)
	}
	for i, a := range autos {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("seed automation %d (%s): %w", i, a.Name, err)
		}
	}
	return autos, nil
}

// Seed creates any seed automations not already present, matching by name.
// Existing automations are never modified, so a restart keeps user edits.
func (s *Store) Seed(autos []Automation, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	existing := make(map[string]bool)
	for _, a := range s.List() {
		existing[a.Name] = true
	}
	for _, a := range autos {
		if existing[a.Name] {
			continue
		}
		if _, err := s.Create(a); err != nil {
			return fmt.Errorf("seeding automation %q: %w", a.Name, err)
		}
		logger.Info("seeded automation", zap.String("name", a.Name))
	}
	return nil
}
