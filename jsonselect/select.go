// Package jsonselect compiles a JSON-path expression and evaluates it
// against a JSON document, normalizing the match into an ordered list of
// string values: scalar strings come back unquoted (meant to be used
// directly as property values), every other JSON value comes back as its
// compact JSON rendering (meant to round-trip).
package jsonselect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nodefleet/dsengine/apperr"
	"github.com/tidwall/gjson"
)

// Path is a compiled selection path. nodequery compiles the expanded
// path once per node query, before the HTTP call, so a malformed path
// fails that query without contacting the endpoint.
type Path struct {
	raw    string
	gjson  string
}

// Compile validates and normalizes path. An empty path selects the whole
// document ("$"); a bare identifier like "foo" is equivalent to "$.foo".
// gjson's own dialect has no "$" prefix, so Compile strips it.
func Compile(path string) (*Path, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return &Path{raw: path, gjson: "@this"}, nil
	}

	normalized := trimmed
	switch {
	case normalized == "$":
		normalized = "@this"
	case strings.HasPrefix(normalized, "$."):
		normalized = strings.TrimPrefix(normalized, "$.")
	case strings.HasPrefix(normalized, "$"):
		normalized = strings.TrimPrefix(normalized, "$")
		normalized = strings.TrimPrefix(normalized, ".")
	}

	// gjson has no static "compile" step of its own; the closest
	// faithful equivalent is a structural syntax check so a clearly
	// malformed path (unbalanced brackets, trailing dots) is rejected
	// before any document is fetched or evaluated.
	if err := validateSyntax(normalized); err != nil {
		return nil, apperr.NewJSON("jsonselect.Compile", apperr.SubBadPath, err)
	}

	return &Path{raw: path, gjson: normalized}, nil
}

func validateSyntax(path string) error {
	depth := 0
	for _, r := range path {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced ']' in path")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced '[' in path")
	}
	if strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return fmt.Errorf("malformed path segment")
	}
	return nil
}

// String returns the original, uncompiled path text.
func (p *Path) String() string { return p.raw }

// Select evaluates a compiled path against a JSON document and returns
// the ordered list of string elements it selects.
//
//   - If the match is a JSON array, each element is yielded in array
//     order.
//   - If the match is a single value, a one-element list is returned.
//   - No match yields an empty list.
//   - Each element is unquoted if it is a JSON scalar string, otherwise
//     rendered as compact JSON.
func Select(path *Path, document []byte) ([]string, error) {
	if !gjson.ValidBytes(document) {
		return nil, apperr.NewJSON("jsonselect.Select", apperr.SubBadJSON, fmt.Errorf("invalid JSON document"))
	}

	result := gjson.GetBytes(document, path.gjson)
	if !result.Exists() {
		return []string{}, nil
	}

	if result.IsArray() {
		elems := result.Array()
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			v, err := render(e)
			if err != nil {
				return nil, apperr.NewJSON("jsonselect.Select", apperr.SubEvalErr, err)
			}
			out = append(out, v)
		}
		return out, nil
	}

	v, err := render(result)
	if err != nil {
		return nil, apperr.NewJSON("jsonselect.Select", apperr.SubEvalErr, err)
	}
	return []string{v}, nil
}

// render applies the string-vs-compact-JSON quoting rule to a single
// gjson.Result.
func render(r gjson.Result) (string, error) {
	if r.Type == gjson.String {
		return r.String(), nil
	}

	raw := r.Raw
	if raw == "" {
		// Numbers/bools/null sometimes surface without .Raw populated
		// depending on how the value was synthesized (e.g. range
		// iteration); fall back to a value-based re-encode.
		b, err := json.Marshal(r.Value())
		if err != nil {
			return "", err
		}
		raw = string(b)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
