package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/depie/maicookbook/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"kind":"not_found","detail":"not found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestStartConversation(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /conversations": `{"conversation_id":"c0ffee"}`,
	})

	id, err := startConversation(ctx, ts.client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "c0ffee" {
		t.Errorf("conversation id = %q, want c0ffee", id)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Method != "POST" || ts.requests[0].Path != "/conversations" {
		t.Errorf("request = %s %s, want POST /conversations", ts.requests[0].Method, ts.requests[0].Path)
	}
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"reply":"Δοκίμασε μουσακά."}`,
	})

	reply, err := sendMessage(ctx, ts.client(), "c0ffee", "Τι να μαγειρέψω;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Δοκίμασε μουσακά." {
		t.Errorf("reply = %q, want the server's reply", reply)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["session_id"] != "c0ffee" {
		t.Errorf("body.session_id = %q, want c0ffee", body["session_id"])
	}
	if body["message"] != "Τι να μαγειρέψω;" {
		t.Errorf("body.message = %q, want the user turn", body["message"])
	}
}

func TestSendMessage_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte(`{"error":{"kind":"upstream_error","detail":"completion failed after retries"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	_, err := sendMessage(ctx, client, "c0ffee", "hello")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if err.Error() != "completion failed after retries" {
		t.Errorf("error = %q, want the envelope detail verbatim", err.Error())
	}
}

func TestSendMessage_MalformedErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("boom"))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	_, err := sendMessage(ctx, client, "c0ffee", "hello")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want it to mention the status code", err.Error())
	}
}

func TestReplayHistory(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /conversations/c0ffee/messages": `{"history":[{"role":"user","text":"γεια"},{"role":"assistant","text":"Καλησπέρα."}]}`,
	})

	if err := replayHistory(ctx, ts.client(), "c0ffee"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Path != "/conversations/c0ffee/messages" {
		t.Errorf("path = %q, want /conversations/c0ffee/messages", ts.requests[0].Path)
	}
}

func TestReplayHistory_UnknownConversation(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	err := replayHistory(ctx, ts.client(), "nope")
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok","documents":12}`,
	})

	resp, err := ts.client().get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Καλημέρα. Τι καλό θα ήθελες να φτιάξουμε;"},
		{9, "Καλημέρα. Τι καλό θα ήθελες να φτιάξουμε;"},
		{12, "Καλησπέρα. Τι καλό θα ήθελες να φτιάξουμε;"},
		{23, "Καλησπέρα. Τι καλό θα ήθελες να φτιάξουμε;"},
	}
	for _, tt := range tests {
		now := time.Date(2025, 3, 14, tt.hour, 30, 0, 0, time.Local)
		if got := greeting(now); got != tt.want {
			t.Errorf("greeting(hour=%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestConfigSetCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "retrieval.top_k"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing value argument")
	}
	if !strings.Contains(err.Error(), "2 arg") {
		t.Errorf("error = %q, want it to mention the argument count", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.API.ChatModel = "meltemi-vllm"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":{"kind":"invalid_request","detail":"message must not be blank"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	resp, err := client.get(ctx, "/conversations")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %q, want it to contain '400'", err.Error())
	}
}
