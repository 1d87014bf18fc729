package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts a .yaml/.yml config to JSON so both formats share
// the strict decoder in Parse. JSON files pass through untouched.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), "yaml", nil
	}
	v, err := nodeValue(doc.Content[0])
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return j, "yaml", nil
}

// nodeValue builds JSON-compatible values. Aliases are resolved and "<<"
// merge keys are applied without overriding explicit keys.
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		var merged []map[string]any
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
			}
			v, err := nodeValue(vn)
			if err != nil {
				return nil, err
			}
			if k.Tag == "!!merge" || k.Value == "<<" {
				switch m := v.(type) {
				case map[string]any:
					merged = append(merged, m)
				case []any:
					for _, x := range m {
						if xm, ok := x.(map[string]any); ok {
							merged = append(merged, xm)
						}
					}
				default:
					return nil, fmt.Errorf("line %d: merge value must be a mapping", k.Line)
				}
				continue
			}
			out[k.Value] = v
		}
		for _, m := range merged {
			for k, v := range m {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
		return out, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}
