package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsTokenHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Supervisor-Token")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "shared-secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background(), "srv-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if gotToken != "shared-secret" {
		t.Fatalf("expected token header, got %q", gotToken)
	}
}

func TestClientLifecyclePaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "t", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	if err := client.Start(ctx, "srv-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.Stop(ctx, "srv-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := client.Restart(ctx, "srv-1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := client.Kill(ctx, "srv-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}

	want := []string{"/servers/srv-1/start", "/servers/srv-1/stop", "/servers/srv-1/restart", "/servers/srv-1/kill"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(paths))
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("request %d hit %s, want %s", i, paths[i], p)
		}
	}
}

func TestClientSendCommand(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers/srv-1/stdin" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "t", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.SendCommand(context.Background(), "srv-1", "save-all"); err != nil {
		t.Fatalf("send command: %v", err)
	}
	if body["text"] != "save-all" {
		t.Fatalf("expected stdin text save-all, got %q", body["text"])
	}

	if err := client.SendCommand(context.Background(), "srv-1", "  "); err == nil {
		t.Fatalf("expected rejection of blank command")
	}
}

func TestClientSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers/srv-1/stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cpu_percent": 37.5,
			"ram":         2048,
			"tps":         19.9,
			"players":     4,
		})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "t", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	snapshot, err := client.Sample(context.Background(), "srv-1")
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if snapshot.ServerID != "srv-1" {
		t.Fatalf("unexpected server id %s", snapshot.ServerID)
	}
	if snapshot.CPUPercent != 37.5 || snapshot.TPS != 19.9 || snapshot.Players != 4 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	// Unit normalization is the broadcaster's job; the raw reading passes
	// through untouched.
	if snapshot.RAMBytes != 2048 {
		t.Fatalf("expected raw ram reading 2048, got %d", snapshot.RAMBytes)
	}
}

func TestClientStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client, err := New(srv.URL, "t", nil)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		if err := client.Stop(context.Background(), "srv-1"); !errors.Is(err, tc.want) {
			t.Fatalf("status %d mapped to %v, want %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

func TestClientInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "t", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Sample(context.Background(), "srv-1"); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("  ", "t", nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
