package nodequery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/httpfetch"
	"github.com/nodefleet/dsengine/interpolate"
	"github.com/stretchr/testify/require"
)

func newRunner() *Runner {
	return NewRunner(httpfetch.NewFetcher("dsengine/test"), interpolate.NewTemplateExpander())
}

func baseSource(url, path string) datasource.HTTPSourceType {
	return datasource.HTTPSourceType{
		URL:            url,
		Path:           path,
		Method:         datasource.MethodGet,
		RequestTimeout: time.Second,
	}
}

func baseCtx() interpolate.Context {
	return interpolate.Context{Node: datasource.NodeInfo{ID: "node-1"}}
}

func TestRunSuccessExtractsFirstElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hostname":"web-01"}`))
	}))
	defer srv.Close()

	r := newRunner()
	res, err := r.Run(context.Background(), "hostname-source", baseSource(srv.URL, "$.hostname"), baseCtx())
	require.NoError(t, err)
	require.True(t, res.Present)
	require.Equal(t, "web-01", res.Property.Value)
	require.Equal(t, "hostname-source", res.Property.Name)
	require.Equal(t, datasource.Provider, res.Property.Provider)
}

func TestRunSuccessEmptySelectionClears(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hostname":"web-01"}`))
	}))
	defer srv.Close()

	r := newRunner()
	res, err := r.Run(context.Background(), "src", baseSource(srv.URL, "$.missing"), baseCtx())
	require.NoError(t, err)
	require.True(t, res.Present)
	require.Equal(t, "", res.Property.Value)
}

func TestRunNotFoundDeletePolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := baseSource(srv.URL, "$.hostname")
	source.MissingNodeBehavior = datasource.MissingNodeBehavior{Kind: datasource.MissingDelete}

	r := newRunner()
	res, err := r.Run(context.Background(), "src", source, baseCtx())
	require.NoError(t, err)
	require.True(t, res.Present)
	require.Equal(t, "", res.Property.Value)
}

func TestRunNotFoundDefaultValuePolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := baseSource(srv.URL, "$.hostname")
	source.MissingNodeBehavior = datasource.MissingNodeBehavior{
		Kind:    datasource.MissingDefaultValue,
		Default: []byte(`"unknown"`),
	}

	r := newRunner()
	res, err := r.Run(context.Background(), "src", source, baseCtx())
	require.NoError(t, err)
	require.True(t, res.Present)
	require.Equal(t, "unknown", res.Property.Value)
}

func TestRunNotFoundNoChangePolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := baseSource(srv.URL, "$.hostname")
	source.MissingNodeBehavior = datasource.MissingNodeBehavior{Kind: datasource.MissingNoChange}

	r := newRunner()
	res, err := r.Run(context.Background(), "src", source, baseCtx())
	require.NoError(t, err)
	require.False(t, res.Present)
}

func TestRunHTTPErrorIgnoresMissingPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := baseSource(srv.URL, "$.hostname")
	source.MissingNodeBehavior = datasource.MissingNodeBehavior{Kind: datasource.MissingNoChange}

	r := newRunner()
	_, err := r.Run(context.Background(), "src", source, baseCtx())
	require.Error(t, err)
}

func TestRunExpandsURLWithNode(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"v":"ok"}`))
	}))
	defer srv.Close()

	source := baseSource(srv.URL+"/${node.id}", "$.v")
	r := newRunner()
	res, err := r.Run(context.Background(), "src", source, baseCtx())
	require.NoError(t, err)
	require.True(t, res.Present)
	require.Equal(t, "/node-1", gotPath)
}

func TestRunInterpolationErrorFailsQuery(t *testing.T) {
	source := baseSource("https://example.com/${param.missing}", "$.v")
	r := newRunner()
	_, err := r.Run(context.Background(), "src", source, baseCtx())
	require.Error(t, err)
}
