// Package nodequery composes interpolate, httpfetch and jsonselect for
// a single (data source, node) pair, producing at most one property
// change.
package nodequery

import (
	"context"

	"github.com/nodefleet/dsengine/apperr"
	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/httpfetch"
	"github.com/nodefleet/dsengine/interpolate"
	"github.com/nodefleet/dsengine/jsonselect"
)

// Result is Option<NodeProperty>: Present is false means "do not touch
// this node's property," true means Property should be written.
type Result struct {
	Present  bool
	Property datasource.NodeProperty
}

// Runner executes one NodeQuery.
type Runner struct {
	Fetcher  *httpfetch.Fetcher
	Expander interpolate.Expander
}

// NewRunner builds a Runner.
func NewRunner(fetcher *httpfetch.Fetcher, expander interpolate.Expander) *Runner {
	return &Runner{Fetcher: fetcher, Expander: expander}
}

// Run executes the query for one node against one HTTP data source.
func (r *Runner) Run(ctx context.Context, sourceID string, http datasource.HTTPSourceType, ictx interpolate.Context) (Result, error) {
	expand := r.Expander.Expander(ictx)

	url, path, headers, params, err := interpolate.ExpandAll(expand, http.URL, http.Path, http.Headers, http.Params)
	if err != nil {
		return Result{}, apperr.New("nodequery.Run", apperr.KindInterpolation, ictx.Node.ID, err)
	}

	compiledPath, err := jsonselect.Compile(path)
	if err != nil {
		return Result{}, err
	}

	outcome := r.Fetcher.Fetch(ctx, httpfetch.Request{
		Method:         http.Method,
		URL:            url,
		Headers:        headers,
		Params:         params,
		CheckSSL:       http.CheckSSL,
		ConnectTimeout: http.RequestTimeout,
		ReadTimeout:    http.RequestTimeout,
	})

	switch outcome.Kind {
	case httpfetch.OutcomeSuccess:
		elems, err := jsonselect.Select(compiledPath, []byte(outcome.Body))
		if err != nil {
			return Result{}, err
		}
		value := ""
		if len(elems) > 0 {
			value = elems[0] // later elements ignored by design
		}
		return property(sourceID, value), nil

	case httpfetch.OutcomeNotFound:
		return fromMissingPolicy(sourceID, http.MissingNodeBehavior)

	default: // HTTPError, TransportError
		return Result{}, outcome.Err
	}
}

func fromMissingPolicy(sourceID string, policy datasource.MissingNodeBehavior) (Result, error) {
	switch policy.Kind {
	case datasource.MissingDelete:
		return property(sourceID, ""), nil
	case datasource.MissingDefaultValue:
		v, err := datasource.RenderValue(policy.Default)
		if err != nil {
			return Result{}, apperr.New("nodequery.fromMissingPolicy", apperr.KindConfig, sourceID, err)
		}
		return property(sourceID, v), nil
	case datasource.MissingNoChange:
		return Result{Present: false}, nil
	default:
		return property(sourceID, ""), nil
	}
}

func property(sourceID, value string) Result {
	return Result{
		Present: true,
		Property: datasource.NodeProperty{
			Name:     sourceID,
			Value:    value,
			Provider: datasource.Provider,
		},
	}
}
