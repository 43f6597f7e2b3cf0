package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nodefleet/dsengine/datasource"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "dsengine", r.Header.Get("X-Source"))
		w.Write([]byte(`{"ip":"1.2.3.4"}`))
	}))
	defer srv.Close()

	f := NewFetcher("dsengine/test")
	outcome := f.Fetch(context.Background(), Request{
		Method:         datasource.MethodGet,
		URL:            srv.URL,
		Headers:        []datasource.HeaderParam{{Name: "X-Source", Value: "dsengine"}},
		CheckSSL:       true,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})

	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.JSONEq(t, `{"ip":"1.2.3.4"}`, outcome.Body)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher("dsengine/test")
	outcome := f.Fetch(context.Background(), Request{
		Method:         datasource.MethodGet,
		URL:            srv.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	require.Equal(t, OutcomeNotFound, outcome.Kind)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	f := NewFetcher("dsengine/test")
	outcome := f.Fetch(context.Background(), Request{
		Method:         datasource.MethodGet,
		URL:            srv.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	require.Equal(t, OutcomeHTTPError, outcome.Kind)
	require.Equal(t, 500, outcome.StatusCode)
	require.Error(t, outcome.Err)
}

func TestFetchTransportErrorOnDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher("dsengine/test")
	outcome := f.Fetch(context.Background(), Request{
		Method:         datasource.MethodGet,
		URL:            srv.URL,
		ConnectTimeout: time.Millisecond,
		ReadTimeout:    time.Millisecond,
	})
	require.Equal(t, OutcomeTransportError, outcome.Kind)
	require.Error(t, outcome.Err)
}

func TestFetchPostFormEncodesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "celsius", r.FormValue("unit"))
		w.Write([]byte(`{"temp":21}`))
	}))
	defer srv.Close()

	f := NewFetcher("dsengine/test")
	outcome := f.Fetch(context.Background(), Request{
		Method:         datasource.MethodPost,
		URL:            srv.URL,
		Params:         []datasource.HeaderParam{{Name: "unit", Value: "celsius"}},
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	require.Equal(t, OutcomeSuccess, outcome.Kind)
}

func TestFetchPanicsWithoutTimeouts(t *testing.T) {
	f := NewFetcher("dsengine/test")
	require.Panics(t, func() {
		f.Fetch(context.Background(), Request{Method: datasource.MethodGet, URL: "http://example.com"})
	})
}
