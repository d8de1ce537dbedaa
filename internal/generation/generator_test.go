package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaGenerator_Generate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "Day 1: beach", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL + "/", Temperature: 0.2, MaxTokens: 100})
	out, err := g.Generate(context.Background(), "plan a trip", "be brief")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Day 1: beach" {
		t.Errorf("out = %q", out)
	}
	if got.Model != DefaultModel || got.Prompt != "plan a trip" || got.System != "be brief" || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if got.Options == nil || got.Options.NumPredict != 100 || got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestOllamaGenerator_NDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hello ","done":false}`)
		fmt.Fprintln(w, `{"response":"world","done":true}`)
	}))
	defer srv.Close()

	out, err := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "p", "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello world" {
		t.Errorf("out = %q", out)
	}
}

func TestOllamaGenerator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}, "status 404"},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{oops"))
		}, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewOllamaGenerator(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "p", "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
