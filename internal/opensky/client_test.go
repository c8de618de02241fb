package opensky

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skywatch/internal/config"
	"skywatch/internal/model"
)

func feedClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/api/states/all", handler)
	srv := httptest.NewServer(mux)
	c := NewClient(config.OpenSkyConfig{
		AuthURL: srv.URL + "/token",
		APIURL:  srv.URL + "/api",
		Timeout: 2 * time.Second,
	})
	return c, srv
}

func TestStatesDecodesPositionalRows(t *testing.T) {
	c, srv := feedClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		q := r.URL.Query()
		for _, k := range []string{"lamin", "lamax", "lomin", "lomax"} {
			if q.Get(k) == "" {
				t.Errorf("missing query param %s", k)
			}
		}
		_, _ = w.Write([]byte(`{"time":1700000000,"states":[
			["abc123","UAL42  ","United States",null,1699999990,-74.002,40.001,0,false,200.0,90.0,0,null,10668.0,"1200",false,0],
			["def456",null,"Germany",null,1699999980,8.5,50.1,0,false,210.0,180.0,0,null,9144.0,null,false,0],
			["0a1b2c","DLH9 ","Germany",null,1699999970,8.6,50.2,0,false,205.0,175.0,0,null,null,null,false,0]
		]}`))
	})
	defer srv.Close()

	records, err := c.States(context.Background(), model.BoxAround(40.0, -74.0, 0.5))
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	// Row 2 has no callsign, row 3 no altitude; both dropped.
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ICAO24 != "abc123" || rec.Callsign != "UAL42" || rec.OriginCountry != "United States" {
		t.Fatalf("identity fields = %+v", rec)
	}
	if rec.Latitude != 40.001 || rec.Longitude != -74.002 || rec.Altitude != 10668.0 {
		t.Fatalf("position fields = %+v", rec)
	}
	if !rec.HasPosition() {
		t.Fatal("expected position")
	}
	if got := rec.LastContact; !got.Equal(time.Unix(1699999990, 0)) {
		t.Fatalf("last contact = %v", got)
	}
}

func TestStatesNullPositionKept(t *testing.T) {
	c, srv := feedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"time":1,"states":[
			["abc123","UAL42","US",null,1699999990,null,null,0,false,0,0,0,null,10668.0,null,false,0]
		]}`))
	})
	defer srv.Close()

	records, err := c.States(context.Background(), model.BoxAround(40, -74, 0.01))
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].HasPosition() {
		t.Fatal("expected missing position")
	}
}

func TestStatesEmptyResultIsNotAnError(t *testing.T) {
	c, srv := feedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"time":1700000000,"states":null}`))
	})
	defer srv.Close()

	records, err := c.States(context.Background(), model.BoxAround(0, 0, 0.01))
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %d, want 0", len(records))
	}
}

func TestStatesUpstreamFailureIsFeedError(t *testing.T) {
	c, srv := feedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	_, err := c.States(context.Background(), model.BoxAround(0, 0, 0.01))
	var feedErr *FeedError
	if !errors.As(err, &feedErr) {
		t.Fatalf("err = %v, want *FeedError", err)
	}
}

func TestStatesMalformedPayloadIsFeedError(t *testing.T) {
	c, srv := feedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"time":`))
	})
	defer srv.Close()

	_, err := c.States(context.Background(), model.BoxAround(0, 0, 0.01))
	var feedErr *FeedError
	if !errors.As(err, &feedErr) {
		t.Fatalf("err = %v, want *FeedError", err)
	}
}

func TestStatesAuthFailurePropagates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(config.OpenSkyConfig{
		AuthURL: srv.URL + "/token",
		APIURL:  srv.URL + "/api",
		Timeout: 2 * time.Second,
	})
	_, err := c.States(context.Background(), model.BoxAround(0, 0, 0.01))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}
