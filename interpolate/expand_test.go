package interpolate

import (
	"testing"

	"github.com/nodefleet/dsengine/datasource"
	"github.com/stretchr/testify/require"
)

func TestExpandNodePolicyServerAndParam(t *testing.T) {
	ctx := Context{
		Node:         datasource.NodeInfo{ID: "node-1", PolicyServerID: "root"},
		PolicyServer: datasource.NodeInfo{ID: "root"},
		Parameters:   map[string]string{"region": "eu-west-1"},
	}
	expand := NewTemplateExpander().Expander(ctx)

	out, err := expand("https://api.example.com/${node.id}?ps=${policyServer.id}&region=${param.region}")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/node-1?ps=root&region=eu-west-1", out)
}

func TestExpandUnknownParameterFails(t *testing.T) {
	expand := NewTemplateExpander().Expander(Context{Parameters: map[string]string{}})
	_, err := expand("${param.missing}")
	require.Error(t, err)
}

func TestExpandAllOrder(t *testing.T) {
	ctx := Context{Node: datasource.NodeInfo{ID: "n1"}}
	expand := NewTemplateExpander().Expander(ctx)

	url, path, headers, params, err := ExpandAll(expand,
		"https://x/${node.id}", "$.${node.id}",
		[]datasource.HeaderParam{{Name: "X-${node.id}", Value: "v-${node.id}"}},
		[]datasource.HeaderParam{{Name: "p-${node.id}", Value: "q-${node.id}"}},
	)
	require.NoError(t, err)
	require.Equal(t, "https://x/n1", url)
	require.Equal(t, "$.n1", path)
	require.Equal(t, "X-n1", headers[0].Name)
	require.Equal(t, "v-n1", headers[0].Value)
	require.Equal(t, "p-n1", params[0].Name)
	require.Equal(t, "q-n1", params[0].Value)
}
