// Package datasource holds the data-source configuration entity, the
// node/property/parameter value types the rest of dsengine operates on,
// and the repository interface an embedder implements to persist data
// sources.
package datasource

import "time"

// Provider identifies dsengine as the writer of a property, so the node
// property store can refuse overwrites of a reserved property name by
// any other actor.
const Provider = "dsengine"

// HTTPMethod is the outbound request method for an HTTP data source.
type HTTPMethod string

const (
	MethodGet  HTTPMethod = "GET"
	MethodPost HTTPMethod = "POST"
)

// MissingNodeBehavior is the policy applied when the endpoint replies
// 404 (not found) for a node.
type MissingNodeBehavior struct {
	Kind    MissingNodeKind
	Default []byte // raw JSON, only meaningful when Kind == MissingDefaultValue
}

type MissingNodeKind string

const (
	MissingDelete       MissingNodeKind = "delete"
	MissingNoChange     MissingNodeKind = "noChange"
	MissingDefaultValue MissingNodeKind = "defaultValue"
)

// RequestModeKind distinguishes the two HTTP request fan-out strategies
// a data source can declare.
type RequestModeKind string

const (
	RequestModeByNode    RequestModeKind = "byNode"
	RequestModeAllNodes  RequestModeKind = "allNodes"
)

// RequestMode describes how a single fan-out maps to HTTP calls.
// Attribute/SubPath are only meaningful for RequestModeAllNodes.
type RequestMode struct {
	Kind      RequestModeKind
	SubPath   string
	Attribute string
}

// HeaderParam is one ordered name/value pair; headers and query params
// both use this shape so iteration order is preserved, matching the
// persisted wire schema's array-of-{name,value} representation.
type HeaderParam struct {
	Name  string
	Value string
}

// HTTPSourceType is the (currently only) DataSourceType variant.
type HTTPSourceType struct {
	URL                 string
	Path                string
	Method              HTTPMethod
	CheckSSL            bool
	RequestTimeout      time.Duration
	Headers             []HeaderParam
	Params              []HeaderParam
	RequestMode         RequestMode
	MissingNodeBehavior MissingNodeBehavior
}

// Schedule is DataSourceSchedule: a tagged variant carrying a period in
// both cases, so toggling between the two never loses the configured
// interval.
type Schedule struct {
	Scheduled bool
	Period    time.Duration
}

// RunParam controls which events trigger a data source's fan-out
// outside of its own periodic timer.
type RunParam struct {
	OnGeneration bool
	OnNewNode    bool
	Schedule     Schedule
}

// DataSource is the persisted descriptor of one external JSON endpoint
// plus its extraction and scheduling policy.
type DataSource struct {
	ID          string
	Name        string
	Description string
	Enabled     bool

	UpdateTimeout time.Duration
	RunParam      RunParam
	HTTP          HTTPSourceType
}

// UpdateCause is the audit record (modification id, actor, reason) for a
// property write. fanout.Executor.Run and NodeWriter.Write neither take
// nor pass an UpdateCause, so the engine's own writes carry none.
type UpdateCause struct {
	ModificationID string
	Actor          string
	Reason         string
}

// NodeInfo is the minimal node shape the engine needs: its id and which
// node governs it.
type NodeInfo struct {
	ID             string
	PolicyServerID string
	Attributes     map[string]interface{}
}

// Parameter is a single global parameter available to interpolation.
type Parameter struct {
	Name  string
	Value string
}

// PartialNodeUpdate is the caller-resolved working set for one fan-out:
// pre-resolved nodes, their policy servers, and the parameter set, so
// the fan-out never has to re-query inventory mid-run.
type PartialNodeUpdate struct {
	Nodes         map[string]NodeInfo
	PolicyServers map[string]NodeInfo
	Parameters    []Parameter
}

// NodeProperty is the (name, value, provider) triple written back to a
// node.
type NodeProperty struct {
	Name     string
	Value    string
	Provider string
}
