package scrub

import (
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"testing"

	"github.com/austindbirch/activitylogger/internal/config"
)

type loginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		denylist []string
		want     map[string]any
	}{
		{
			name: "nested redaction",
			payload: map[string]any{
				"password": "x",
				"nested":   map[string]any{"token": "y", "ok": "z"},
			},
			denylist: []string{"password", "token"},
			want: map[string]any{
				"password": Marker,
				"nested":   map[string]any{"token": Marker, "ok": "z"},
			},
		},
		{
			name:     "case insensitive keys and entries",
			payload:  map[string]any{"Password": "x", "API_KEY": 42, "name": "n"},
			denylist: []string{"PASSWORD", "api_key"},
			want:     map[string]any{"Password": Marker, "API_KEY": Marker, "name": "n"},
		},
		{
			name: "container key matching is recursed not blanked",
			payload: map[string]any{
				"token": map[string]any{"value": "abc", "token": "def"},
			},
			denylist: []string{"token"},
			want: map[string]any{
				"token": map[string]any{"value": "abc", "token": Marker},
			},
		},
		{
			name: "lists are walked element-wise",
			payload: map[string]any{
				"users": []any{
					map[string]any{"email": "a@example.com", "secret": "s1"},
					map[string]any{"email": "b@example.com", "secret": true},
				},
			},
			denylist: []string{"secret"},
			want: map[string]any{
				"users": []any{
					map[string]any{"email": "a@example.com", "secret": Marker},
					map[string]any{"email": "b@example.com", "secret": Marker},
				},
			},
		},
		{
			name:     "scalar list under matching key keeps its shape",
			payload:  map[string]any{"token": []any{"a", "b"}, "tags": []any{"x"}},
			denylist: []string{"token"},
			want:     map[string]any{"token": []any{Marker, Marker}, "tags": []any{"x"}},
		},
		{
			name:     "string slice under matching key",
			payload:  map[string]any{"token": []string{"a", "b"}},
			denylist: []string{"token"},
			want:     map[string]any{"token": []any{Marker, Marker}},
		},
		{
			name:     "url values",
			payload:  map[string]any{"form": url.Values{"password": {"hunter2"}, "email": {"a@example.com"}}},
			denylist: []string{"password"},
			want: map[string]any{"form": map[string]any{
				"password": []any{Marker},
				"email":    []any{"a@example.com"},
			}},
		},
		{
			name:     "http header",
			payload:  map[string]any{"headers": http.Header{"Authorization": {"Bearer abc"}, "Accept": {"json"}}},
			denylist: []string{"authorization"},
			want: map[string]any{"headers": map[string]any{
				"Authorization": []any{Marker},
				"Accept":        []any{"json"},
			}},
		},
		{
			name:     "tagged struct",
			payload:  map[string]any{"body": loginForm{Email: "a@example.com", Password: "s3cret"}},
			denylist: []string{"password"},
			want:     map[string]any{"body": map[string]any{"email": "a@example.com", "password": Marker}},
		},
		{
			name:     "pointer to struct",
			payload:  map[string]any{"body": &loginForm{Password: "s3cret"}},
			denylist: []string{"password"},
			want:     map[string]any{"body": map[string]any{"email": "", "password": Marker}},
		},
		{
			name: "typed nested maps of maps and ints",
			payload: map[string]any{
				"nested": map[string]map[string]any{"x": {"token": "t", "ok": "y"}},
				"counts": map[string]int{"secret": 42, "visits": 7},
			},
			denylist: []string{"token", "secret"},
			want: map[string]any{
				"nested": map[string]any{"x": map[string]any{"token": Marker, "ok": "y"}},
				"counts": map[string]any{"secret": Marker, "visits": json.Number("7")},
			},
		},
		{
			name:     "list of typed maps",
			payload:  map[string]any{"rows": []map[string]any{{"secret": "s", "id": "1"}}},
			denylist: []string{"secret"},
			want:     map[string]any{"rows": []any{map[string]any{"secret": Marker, "id": "1"}}},
		},
		{
			name:     "typed nested maps",
			payload:  map[string]any{"headers": map[string]string{"Authorization": "Bearer t", "Accept": "json"}},
			denylist: []string{"authorization"},
			want:     map[string]any{"headers": map[string]any{"Authorization": Marker, "Accept": "json"}},
		},
		{
			name:     "nil leaf is not a scalar",
			payload:  map[string]any{"password": nil},
			denylist: []string{"password"},
			want:     map[string]any{"password": nil},
		},
		{
			name:     "blank deny entries are ignored",
			payload:  map[string]any{"": "keep", "a": "b"},
			denylist: []string{"", "  "},
			want:     map[string]any{"": "keep", "a": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scrub(tt.payload, tt.denylist)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scrub() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestScrub_Idempotent(t *testing.T) {
	payloads := []map[string]any{
		{"password": "x", "nested": map[string]any{"token": "y", "ok": "z"}},
		{"list": []any{map[string]any{"secret": 1}, "plain"}, "n": 3.5},
		{},
	}
	deny := []string{"password", "token", "secret"}

	for _, p := range payloads {
		once := Scrub(p, deny)
		twice := Scrub(once, deny)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Scrub not idempotent: once=%#v twice=%#v", once, twice)
		}
	}
}

func TestScrub_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"password": "x", "nested": map[string]any{"token": "y"}}
	_ = Scrub(in, []string{"password", "token"})

	if in["password"] != "x" {
		t.Errorf("input mutated: password = %v", in["password"])
	}
	if in["nested"].(map[string]any)["token"] != "y" {
		t.Error("input mutated: nested token")
	}
}

func TestScrubber(t *testing.T) {
	payload := map[string]any{"password": "x"}

	tests := []struct {
		name        string
		cfg         config.Scrub
		wantEnabled bool
		want        any
	}{
		{"enabled", config.Scrub{Enabled: true, Denylist: []string{"password"}}, true, Marker},
		{"disabled", config.Scrub{Enabled: false, Denylist: []string{"password"}}, false, "x"},
		{"empty denylist", config.Scrub{Enabled: true}, false, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.cfg)
			if s.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", s.Enabled(), tt.wantEnabled)
			}
			if got := s.Apply(payload)["password"]; got != tt.want {
				t.Errorf("Apply()[password] = %v, want %v", got, tt.want)
			}
		})
	}
}
