package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON converts a YAML document to JSON so both formats go through the
// same strict decoder. Files without a .yaml/.yml extension pass through.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}

	v = stringKeys(v)
	quoteAccountIDs(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys makes every map key a string.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// quoteAccountIDs turns unquoted numeric provider ids (bili_id: 672346917)
// into strings.
func quoteAccountIDs(v any) {
	root, ok := v.(map[string]any)
	if !ok {
		return
	}
	list, ok := root["accounts"].([]any)
	if !ok {
		return
	}
	for _, a := range list {
		acc, ok := a.(map[string]any)
		if !ok {
			continue
		}
		for k, val := range acc {
			if !strings.HasSuffix(k, "_id") {
				continue
			}
			switch n := val.(type) {
			case int, int64, uint64, float64:
				acc[k] = fmt.Sprint(n)
			}
		}
	}
}
