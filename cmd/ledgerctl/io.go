package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// readEvents decodes a JSON or YAML list from path, or stdin for "-". YAML is
// normalised through JSON so 128-bit fields accept the same spellings in both;
// decimal integers keep their text so values above 64 bits survive.
func readEvents[T any](in io.Reader, path string) ([]T, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	if !looksLikeJSON(path, data) {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("parse yaml events (%s): %w", path, err)
		}
		doc, err := yamlValue(&node)
		if err != nil {
			return nil, fmt.Errorf("parse yaml events (%s): %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("normalise yaml events (%s): %w", path, err)
		}
	}

	var events []T
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse events (%s): %w", path, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in %s", path)
	}
	return events, nil
}

// yamlValue converts n to values json.Marshal can encode. Decimal integer
// scalars become json.Number so they are not rounded through float64.
func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := yamlValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.ScalarNode:
		// yaml tags integers wider than 64 bits as floats.
		if tag := n.ShortTag(); (tag == "!!int" || tag == "!!float") && isDecimal(n.Value) {
			return json.Number(strings.TrimPrefix(n.Value, "+")), nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

// isDecimal reports whether s is a plain base-10 integer without leading zeros.
func isDecimal(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksLikeJSON(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return true
	case ".yaml", ".yml":
		return false
	}
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{")
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
