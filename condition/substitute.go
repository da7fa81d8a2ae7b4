package condition

import (
	"fmt"
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*`)

// ResolveReferences substitutes $-references in an input-mapping expression.
// When the whole expression is a single reference the resolved value keeps its
// type; otherwise references are interpolated into the surrounding text.
func ResolveReferences(expr string, scope *Scope) (interface{}, error) {
	trimmed := strings.TrimSpace(expr)
	if refPattern.FindString(trimmed) == trimmed && strings.HasPrefix(trimmed, "$") {
		return scope.Resolve(strings.Split(trimmed[1:], "."))
	}

	var resolveErr error
	out := refPattern.ReplaceAllStringFunc(expr, func(ref string) string {
		val, err := scope.Resolve(strings.Split(ref[1:], "."))
		if err != nil {
			if resolveErr == nil {
				resolveErr = err
			}
			return ref
		}
		return fmt.Sprintf("%v", val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

// ResolveMapping resolves every entry of an input mapping against the scope.
func ResolveMapping(mapping map[string]string, scope *Scope) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(mapping))
	for name, expr := range mapping {
		val, err := ResolveReferences(expr, scope)
		if err != nil {
			return nil, fmt.Errorf("resolving input %q: %w", name, err)
		}
		resolved[name] = val
	}
	return resolved, nil
}
