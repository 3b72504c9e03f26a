package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/parlorvoice/parlor/internal/config"
)

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"https upgraded to wss", "https://relay.example.com", "wss://relay.example.com/ws", true},
		{"ws kept", "ws://localhost:8080", "ws://localhost:8080/ws", true},
		{"wss kept", "wss://relay.example.com", "wss://relay.example.com/ws", true},
		{"path pinned to /ws", "wss://relay.example.com/anything", "wss://relay.example.com/ws", true},
		{"no host", "not a url", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeWSURL(tc.raw)
			if (err == nil) != tc.ok || got != tc.want {
				t.Fatalf("normalizeWSURL(%q) = (%q, %v), want (%q, ok=%v)", tc.raw, got, err, tc.want, tc.ok)
			}
		})
	}
}

func TestFetchStunServersFromRelay(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ice" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"stunServers": {"stun:stun.example.com:3478"},
		})
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	got := fetchStunServers(context.Background(), wsURL)

	if want := []string{"stun:stun.example.com:3478"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("stun servers = %v, want %v", got, want)
	}
}

func TestFetchStunServersFallsBackToDefaults(t *testing.T) {
	got := fetchStunServers(context.Background(), "ws://127.0.0.1:1/ws")

	if !reflect.DeepEqual(got, config.DefaultStunServers) {
		t.Fatalf("stun servers = %v, want built-in defaults", got)
	}
}
