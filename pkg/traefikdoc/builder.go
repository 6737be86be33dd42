// Package traefikdoc synthesizes a Traefik dynamic-configuration YAML
// document from an ordered list of flat label assignments of the form
// "dotted.path = value".
package traefikdoc

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
)

// rootKey is unwrapped when it is the conventional top-level prefix:
// "traefik.http.routers..." produces a document rooted at "http".
const rootKey = "traefik"

type pathItem struct {
	key     string
	index   int
	indexed bool
}

// Build applies the assignments in input order (later assignments to
// the same path win) and returns the YAML serialization. Identical
// input yields identical output: map keys are serialized sorted.
func Build(lines []string) (string, error) {
	var root interface{} = map[string]interface{}{}

	for _, line := range lines {
		path, value, err := parseAssignment(line)
		if err != nil {
			return "", err
		}
		insert(&root, path, value)
	}

	root = unwrapRoot(root)

	out, err := yaml.Marshal(root)
	if err != nil {
		return "", errors.NewInternalError("failed to serialize document", err)
	}
	return string(out), nil
}

// unwrapRoot replaces the whole document with the value of the
// top-level "traefik" key, when present.
func unwrapRoot(root interface{}) interface{} {
	mapping, ok := root.(map[string]interface{})
	if !ok {
		return root
	}
	inner, ok := mapping[rootKey]
	if !ok {
		return root
	}
	return inner
}

func parseAssignment(line string) ([]pathItem, interface{}, error) {
	sep := strings.Index(line, "=")
	if sep < 0 {
		return nil, nil, errors.NewParseError("missing '=' in assignment", nil).WithContext("assignment", line)
	}
	key := strings.TrimSpace(line[:sep])
	raw := strings.TrimSpace(line[sep+1:])
	return parsePath(key), decodeValue(raw), nil
}

// decodeValue attempts a structured parse (booleans, numbers, quoted
// strings, inline collections); anything that fails falls back to the
// raw string with one layer of matching quotes stripped.
func decodeValue(raw string) interface{} {
	if raw == "" {
		return ""
	}
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return stripQuotes(raw)
}

func stripQuotes(raw string) string {
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

func parsePath(s string) []pathItem {
	parts := strings.Split(s, ".")
	items := make([]pathItem, 0, len(parts))
	for _, part := range parts {
		open := strings.Index(part, "[")
		if open >= 0 && strings.HasSuffix(part, "]") {
			index, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || index < 0 {
				index = 0
			}
			items = append(items, pathItem{key: part[:open], index: index, indexed: true})
		} else {
			items = append(items, pathItem{key: part})
		}
	}
	return items
}

// insert walks path from node, coercing every intermediate node to the
// shape the segment requires (mapping, or sequence for indexed
// segments) and discarding incompatible prior content. Sequences grow
// with null placeholders up to the needed index.
func insert(node *interface{}, path []pathItem, value interface{}) {
	if len(path) == 0 {
		*node = value
		return
	}

	item := path[0]
	mapping := ensureMapping(node)

	if item.indexed {
		seq, _ := mapping[item.key].([]interface{})
		for len(seq) <= item.index {
			seq = append(seq, nil)
		}
		if len(path) == 1 {
			seq[item.index] = value
		} else {
			element := seq[item.index]
			insert(&element, path[1:], value)
			seq[item.index] = element
		}
		mapping[item.key] = seq
		return
	}

	if len(path) == 1 {
		mapping[item.key] = value
		return
	}
	child := mapping[item.key]
	insert(&child, path[1:], value)
	mapping[item.key] = child
}

func ensureMapping(node *interface{}) map[string]interface{} {
	if mapping, ok := (*node).(map[string]interface{}); ok {
		return mapping
	}
	mapping := map[string]interface{}{}
	*node = mapping
	return mapping
}
