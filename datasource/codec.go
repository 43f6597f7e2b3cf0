package datasource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nodefleet/dsengine/apperr"
)

// wireDataSource mirrors the persisted JSON schema byte-for-byte; the
// domain type (DataSource) is shaped for the engine's internal use, so
// Marshal/Unmarshal translate between the two instead of tagging
// DataSource directly with json struct tags.
type wireDataSource struct {
	Name          string          `json:"name"`
	ID            string          `json:"id"`
	Description   string          `json:"description"`
	Enabled       bool            `json:"enabled"`
	UpdateTimeout int64           `json:"updateTimeout"`
	RunParams     wireRunParams   `json:"runParameters"`
	Type          wireSourceType  `json:"type"`
}

type wireRunParams struct {
	OnGeneration bool         `json:"onGeneration"`
	OnNewNode    bool         `json:"onNewNode"`
	Schedule     wireSchedule `json:"schedule"`
}

type wireSchedule struct {
	Type     string `json:"type"`
	Duration int64  `json:"duration"`
}

type wireSourceType struct {
	Name       string              `json:"name"`
	Parameters wireHTTPParameters  `json:"parameters"`
}

type wireHTTPParameters struct {
	URL            string             `json:"url"`
	Path           string             `json:"path"`
	RequestMethod  string             `json:"requestMethod"`
	CheckSSL       bool               `json:"checkSsl"`
	RequestTimeout int64              `json:"requestTimeout"`
	Headers        []wireNameValue    `json:"headers"`
	Params         []wireNameValue    `json:"params"`
	RequestMode    wireRequestMode    `json:"requestMode"`
	OnMissing      *wireOnMissing     `json:"onMissing,omitempty"`
}

type wireNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type wireRequestMode struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Attribute string `json:"attribute,omitempty"`
}

type wireOnMissing struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Marshal serializes ds into the persisted wire schema.
func Marshal(ds DataSource) ([]byte, error) {
	w := wireDataSource{
		Name:          ds.Name,
		ID:            ds.ID,
		Description:   ds.Description,
		Enabled:       ds.Enabled,
		UpdateTimeout: int64(ds.UpdateTimeout / time.Second),
		RunParams: wireRunParams{
			OnGeneration: ds.RunParam.OnGeneration,
			OnNewNode:    ds.RunParam.OnNewNode,
			Schedule: wireSchedule{
				Type:     scheduleWireType(ds.RunParam.Schedule),
				Duration: int64(ds.RunParam.Schedule.Period / time.Second),
			},
		},
		Type: wireSourceType{
			Name: "HTTP",
			Parameters: wireHTTPParameters{
				URL:            ds.HTTP.URL,
				Path:           ds.HTTP.Path,
				RequestMethod:  string(ds.HTTP.Method),
				CheckSSL:       ds.HTTP.CheckSSL,
				RequestTimeout: int64(ds.HTTP.RequestTimeout / time.Second),
				Headers:        toWireNameValues(ds.HTTP.Headers),
				Params:         toWireNameValues(ds.HTTP.Params),
				RequestMode:    toWireRequestMode(ds.HTTP.RequestMode),
				OnMissing:      toWireOnMissing(ds.HTTP.MissingNodeBehavior),
			},
		},
	}
	return json.Marshal(w)
}

// Unmarshal parses the persisted wire schema into a DataSource. An
// absent "onMissing" is parsed as MissingDelete (backwards-compat
// default); a "defaultValue" entry with no "value" is a ConfigError.
func Unmarshal(data []byte) (DataSource, error) {
	var w wireDataSource
	if err := json.Unmarshal(data, &w); err != nil {
		return DataSource{}, apperr.New("datasource.Unmarshal", apperr.KindConfig, "", err)
	}

	missing, err := fromWireOnMissing(w.Type.Parameters.OnMissing)
	if err != nil {
		return DataSource{}, apperr.New("datasource.Unmarshal", apperr.KindConfig, w.ID, err)
	}

	ds := DataSource{
		Name:          w.Name,
		ID:            w.ID,
		Description:   w.Description,
		Enabled:       w.Enabled,
		UpdateTimeout: time.Duration(w.UpdateTimeout) * time.Second,
		RunParam: RunParam{
			OnGeneration: w.RunParams.OnGeneration,
			OnNewNode:    w.RunParams.OnNewNode,
			Schedule: Schedule{
				Scheduled: w.RunParams.Schedule.Type == "scheduled",
				Period:    time.Duration(w.RunParams.Schedule.Duration) * time.Second,
			},
		},
		HTTP: HTTPSourceType{
			URL:                 w.Type.Parameters.URL,
			Path:                w.Type.Parameters.Path,
			Method:              HTTPMethod(w.Type.Parameters.RequestMethod),
			CheckSSL:            w.Type.Parameters.CheckSSL,
			RequestTimeout:      time.Duration(w.Type.Parameters.RequestTimeout) * time.Second,
			Headers:             fromWireNameValues(w.Type.Parameters.Headers),
			Params:              fromWireNameValues(w.Type.Parameters.Params),
			RequestMode:         fromWireRequestMode(w.Type.Parameters.RequestMode),
			MissingNodeBehavior: missing,
		},
	}
	return ds, nil
}

func scheduleWireType(s Schedule) string {
	if s.Scheduled {
		return "scheduled"
	}
	return "notscheduled"
}

func toWireNameValues(in []HeaderParam) []wireNameValue {
	out := make([]wireNameValue, len(in))
	for i, p := range in {
		out[i] = wireNameValue{Name: p.Name, Value: p.Value}
	}
	return out
}

func fromWireNameValues(in []wireNameValue) []HeaderParam {
	out := make([]HeaderParam, len(in))
	for i, p := range in {
		out[i] = HeaderParam{Name: p.Name, Value: p.Value}
	}
	return out
}

func toWireRequestMode(m RequestMode) wireRequestMode {
	if m.Kind == RequestModeAllNodes {
		return wireRequestMode{Name: "allNodes", Path: m.SubPath, Attribute: m.Attribute}
	}
	return wireRequestMode{Name: "byNode"}
}

func fromWireRequestMode(w wireRequestMode) RequestMode {
	if w.Name == "allNodes" {
		return RequestMode{Kind: RequestModeAllNodes, SubPath: w.Path, Attribute: w.Attribute}
	}
	return RequestMode{Kind: RequestModeByNode}
}

func toWireOnMissing(m MissingNodeBehavior) *wireOnMissing {
	switch m.Kind {
	case MissingNoChange:
		return &wireOnMissing{Name: "noChange"}
	case MissingDefaultValue:
		return &wireOnMissing{Name: "defaultValue", Value: json.RawMessage(m.Default)}
	default:
		return &wireOnMissing{Name: "delete"}
	}
}

func fromWireOnMissing(w *wireOnMissing) (MissingNodeBehavior, error) {
	if w == nil {
		return MissingNodeBehavior{Kind: MissingDelete}, nil
	}
	switch w.Name {
	case "noChange":
		return MissingNodeBehavior{Kind: MissingNoChange}, nil
	case "defaultValue":
		if len(w.Value) == 0 {
			return MissingNodeBehavior{}, fmt.Errorf("onMissing.defaultValue requires a value")
		}
		return MissingNodeBehavior{Kind: MissingDefaultValue, Default: []byte(w.Value)}, nil
	case "delete", "":
		return MissingNodeBehavior{Kind: MissingDelete}, nil
	default:
		return MissingNodeBehavior{}, fmt.Errorf("unknown onMissing kind %q", w.Name)
	}
}
