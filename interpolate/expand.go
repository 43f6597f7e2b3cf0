// Package interpolate defines the contract the update engine uses to
// expand templated strings (URL, path, header/param names and values)
// against a node, its policy server, and the global parameter set.
//
// The real compiler is, by design, an external collaborator (spec.md
// §1/§6 place "the string-interpolation compiler for templated fields"
// out of this engine's core). This package therefore ships only the
// Expander contract plus one minimal reference adapter; an embedder that
// already has a templating engine wires it in behind Expander instead.
package interpolate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nodefleet/dsengine/datasource"
)

// Context is the data a single NodeQuery call expands templates
// against.
type Context struct {
	Node          datasource.NodeInfo
	PolicyServer  datasource.NodeInfo
	Parameters    map[string]string
}

// ExpandFunc expands one templated string. Expansion failures abort the
// NodeQuery they were computed for; they never take down the rest of a
// fan-out.
type ExpandFunc func(s string) (string, error)

// Expander builds an ExpandFunc bound to one Context.
type Expander interface {
	Expander(ctx Context) ExpandFunc
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// TemplateExpander is the default reference adapter: it understands
// "${node.<attr>}", "${policyServer.<attr>}" and "${param.<name>}"
// placeholders via dotted-path lookup, in the same spirit as the
// original system's "${node.id}"-style templates, without depending on
// a full templating engine for a grammar this small.
type TemplateExpander struct{}

// NewTemplateExpander returns the default Expander implementation.
func NewTemplateExpander() *TemplateExpander { return &TemplateExpander{} }

func (TemplateExpander) Expander(ctx Context) ExpandFunc {
	return func(s string) (string, error) {
		var expandErr error
		out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
			if expandErr != nil {
				return match
			}
			key := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
			v, err := resolve(ctx, key)
			if err != nil {
				expandErr = err
				return match
			}
			return v
		})
		if expandErr != nil {
			return "", expandErr
		}
		return out, nil
	}
}

func resolve(ctx Context, key string) (string, error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("interpolate: malformed placeholder %q", key)
	}
	scope, attr := parts[0], parts[1]

	switch scope {
	case "node":
		return resolveNode(ctx.Node, attr)
	case "policyServer":
		return resolveNode(ctx.PolicyServer, attr)
	case "param":
		v, ok := ctx.Parameters[attr]
		if !ok {
			return "", fmt.Errorf("interpolate: unknown parameter %q", attr)
		}
		return v, nil
	default:
		return "", fmt.Errorf("interpolate: unknown scope %q", scope)
	}
}

func resolveNode(n datasource.NodeInfo, attr string) (string, error) {
	switch attr {
	case "id":
		return n.ID, nil
	case "policyServerId":
		return n.PolicyServerID, nil
	default:
		if v, ok := n.Attributes[attr]; ok {
			return fmt.Sprintf("%v", v), nil
		}
		return "", fmt.Errorf("interpolate: unknown node attribute %q", attr)
	}
}

// ExpandAll expands url, path, and every header/param name and value
// using expand, in the order NodeQuery performs them: url, path,
// headers (keys and values), params (keys and values).
func ExpandAll(expand ExpandFunc, url, path string, headers, params []datasource.HeaderParam) (outURL, outPath string, outHeaders, outParams []datasource.HeaderParam, err error) {
	if outURL, err = expand(url); err != nil {
		return
	}
	if outPath, err = expand(path); err != nil {
		return
	}
	if outHeaders, err = expandPairs(expand, headers); err != nil {
		return
	}
	if outParams, err = expandPairs(expand, params); err != nil {
		return
	}
	return
}

func expandPairs(expand ExpandFunc, in []datasource.HeaderParam) ([]datasource.HeaderParam, error) {
	out := make([]datasource.HeaderParam, len(in))
	for i, p := range in {
		name, err := expand(p.Name)
		if err != nil {
			return nil, err
		}
		value, err := expand(p.Value)
		if err != nil {
			return nil, err
		}
		out[i] = datasource.HeaderParam{Name: name, Value: value}
	}
	return out, nil
}
