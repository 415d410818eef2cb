package classify

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadRules reads an ordered rule list from a JSON file. The file is a plain
// array of rules evaluated top to bottom. A missing path returns the shipped
// defaults so a fresh install works without any rules file.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), nil
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(rules) == 0 {
		return DefaultRules(), nil
	}
	return rules, nil
}
