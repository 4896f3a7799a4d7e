package llm

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// maxSchemaDepth bounds recursion in GeminiSchema so cyclic $ref chains
// and pathological documents terminate.
const maxSchemaDepth = 80

// geminiDroppedKeys are JSON Schema keywords the Gemini schema dialect
// rejects.
var geminiDroppedKeys = map[string]bool{
	"$defs":         true,
	"definitions":   true,
	"$schema":       true,
	"$id":           true,
	"$anchor":       true,
	"$ref":          true,
	"title":         true,
	"examples":      true,
	"example":       true,
	"default":       true,
	"const":         true,
	"discriminator": true,
}

// nullableWrapperKeys are the only keys a node may carry for its
// [T, null] anyOf to be collapsed into T with nullable set.
var nullableWrapperKeys = map[string]bool{
	"anyOf":       true,
	"title":       true,
	"description": true,
	"default":     true,
	"examples":    true,
	"example":     true,
}

// StrictSchema returns a copy of schema in the shape strict structured
// output APIs require: every object node with properties gets
// additionalProperties=false (unless already set) and lists every property
// as required. The input is never mutated.
func StrictSchema(schema any) map[string]any {
	out, ok := strictNode(schema).(map[string]any)
	if !ok {
		return map[string]any{"type": "object", "additionalProperties": false}
	}
	return out
}

func strictNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = strictNode(v)
		}
		if out["type"] != "object" {
			return out
		}
		props, ok := out["properties"].(map[string]any)
		if !ok {
			return out
		}
		if _, set := out["additionalProperties"]; !set {
			out["additionalProperties"] = false
		}
		keys := lo.Keys(props)
		slices.Sort(keys)
		existing, isList := stringList(out["required"])
		if !isList {
			out["required"] = toAnySlice(keys)
			return out
		}
		missing := lo.Without(keys, existing...)
		out["required"] = toAnySlice(lo.Uniq(append(existing, missing...)))
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = strictNode(v)
		}
		return out
	default:
		return node
	}
}

// GeminiSchema converts a JSON Schema into the Gemini responseSchema
// dialect: local $refs are inlined, [T, null] anyOf pairs become T with
// nullable=true, type names are upper-cased and unsupported keywords are
// removed. A root that does not resolve to an object yields {"type":"OBJECT"}.
func GeminiSchema(schema any) map[string]any {
	root, ok := schema.(map[string]any)
	if !ok {
		return map[string]any{"type": "OBJECT"}
	}
	c := geminiConverter{defs: make(map[string]any)}
	for _, key := range []string{"$defs", "definitions"} {
		if defs, ok := root[key].(map[string]any); ok {
			for name, def := range defs {
				c.defs[name] = def
			}
		}
	}
	out, ok := c.convert(deepCopy(root), 0).(map[string]any)
	if !ok {
		return map[string]any{"type": "OBJECT"}
	}
	return out
}

type geminiConverter struct {
	defs map[string]any
}

func (c geminiConverter) resolve(ref string) (map[string]any, bool) {
	var name string
	switch {
	case strings.HasPrefix(ref, "#/$defs/"):
		name = strings.TrimPrefix(ref, "#/$defs/")
	case strings.HasPrefix(ref, "#/definitions/"):
		name = strings.TrimPrefix(ref, "#/definitions/")
	default:
		return nil, false
	}
	def, ok := c.defs[name].(map[string]any)
	return def, ok
}

func (c geminiConverter) convert(node any, depth int) any {
	if depth > maxSchemaDepth {
		return node
	}
	switch n := node.(type) {
	case map[string]any:
		return c.convertMap(n, depth)
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = c.convert(v, depth+1)
		}
		return out
	default:
		return node
	}
}

func (c geminiConverter) convertMap(n map[string]any, depth int) any {
	if ref, ok := n["$ref"].(string); ok {
		if target, ok := c.resolve(ref); ok {
			merged, _ := deepCopy(target).(map[string]any)
			for k, v := range n {
				if k != "$ref" {
					merged[k] = v
				}
			}
			return c.convert(merged, depth+1)
		}
	}

	if base, ok := c.collapseNullable(n, depth); ok {
		return base
	}

	out := make(map[string]any, len(n))
	for k, v := range n {
		if geminiDroppedKeys[k] {
			continue
		}
		if k == "type" {
			if t, ok := v.(string); ok {
				if t != "null" {
					out[k] = strings.ToUpper(t)
				}
				continue
			}
		}
		if k == "properties" {
			if props, ok := v.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, prop := range props {
					converted[name] = c.convert(prop, depth+1)
				}
				out[k] = converted
				continue
			}
		}
		out[k] = c.convert(v, depth+1)
	}
	return out
}

// collapseNullable rewrites {"anyOf": [T, {"type": "null"}]} into T with
// nullable set, carrying over the wrapper's description.
func (c geminiConverter) collapseNullable(n map[string]any, depth int) (map[string]any, bool) {
	branches, ok := n["anyOf"].([]any)
	if !ok {
		return nil, false
	}
	for k := range n {
		if !nullableWrapperKeys[k] {
			return nil, false
		}
	}
	hasNull := false
	var nonNull []any
	for _, b := range branches {
		if m, ok := b.(map[string]any); ok && m["type"] == "null" {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, b)
	}
	if !hasNull || len(nonNull) != 1 {
		return nil, false
	}
	base, ok := c.convert(nonNull[0], depth+1).(map[string]any)
	if !ok {
		return nil, false
	}
	base["nullable"] = true
	if desc, ok := n["description"]; ok {
		if _, has := base["description"]; !has {
			base["description"] = desc
		}
	}
	return base, true
}

// LooksLikeGeminiSchemaError reports whether a 400 response body reads as
// a rejection of the responseSchema rather than of the prompt.
func LooksLikeGeminiSchemaError(text string) bool {
	lowered := strings.ToLower(text)
	hasSchemaPath := strings.Contains(lowered, "response_schema") ||
		strings.Contains(lowered, "responseschema")
	hasKeyword := strings.Contains(text, "$defs") ||
		strings.Contains(text, "$ref") ||
		strings.Contains(lowered, "cannot find field") ||
		strings.Contains(lowered, "unknown name")
	return hasSchemaPath || (strings.Contains(lowered, "invalid json payload") && hasKeyword)
}

func deepCopy(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = deepCopy(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = deepCopy(v)
		}
		return out
	default:
		return node
	}
}

// stringList reads a JSON array of strings. Schemas built in Go may carry
// []string directly.
func stringList(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return slices.Clone(l), true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

func toAnySlice(s []string) []any {
	return lo.Map(s, func(item string, _ int) any { return item })
}
