package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kalambet/groupmind/internal/api"
	"github.com/kalambet/groupmind/internal/config"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/storage"
)

var ctx = context.Background()

const testGroup = int64(-1001)

// newTestAPI runs the real admin API over an in-memory store.
func newTestAPI(t *testing.T) (*apiClient, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.EnsureGroup(testGroup, "Gamers"); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(api.NewAdminHandler(api.AdminDeps{
		Store:     store,
		Knowledge: knowledge.NewService(store),
		Token:     "test-token",
	}))
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, token: "test-token", httpClient: srv.Client()}, store
}

// withAPIClient points commands at client for the duration of the test.
func withAPIClient(t *testing.T, client *apiClient) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return client, nil }
	t.Cleanup(func() { newAPIClient = old })
}

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldColor := stdout, stderr, noColor
	stdout, stderr, noColor = &out, &errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = oldOut, oldErr, oldColor })
	return &out, &errOut
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestTeachAndList(t *testing.T) {
	client, _ := newTestAPI(t)

	entry, err := teach(ctx, client, testGroup, "When do we play?", "Friday 7pm")
	if err != nil {
		t.Fatalf("teach: %v", err)
	}
	if entry.ID == 0 || entry.Confidence != 1.0 || entry.Source != storage.SourceManual {
		t.Errorf("entry = %+v", entry)
	}

	withAPIClient(t, client)
	out, _ := captureOutput(t)
	if err := execute(t, "knowledge", "list", "--", "-1001"); err != nil {
		t.Fatalf("knowledge list: %v", err)
	}
	if !strings.Contains(out.String(), "When do we play?") || !strings.Contains(out.String(), "1.00") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTeachCommand(t *testing.T) {
	client, store := newTestAPI(t)
	withAPIClient(t, client)
	_, errOut := captureOutput(t)

	if err := execute(t, "teach", "--", "-1001", "Rules?", "Be kind"); err != nil {
		t.Fatalf("teach: %v", err)
	}
	if !strings.Contains(errOut.String(), "Stored entry") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if _, err := store.FindKnowledge(testGroup, "rules?"); err != nil {
		t.Errorf("entry not stored: %v", err)
	}
}

func TestTeach_UnknownGroup(t *testing.T) {
	client, _ := newTestAPI(t)
	_, err := teach(ctx, client, -5, "q", "a")
	if err == nil || !strings.Contains(err.Error(), "group not found") {
		t.Errorf("err = %v", err)
	}
}

func TestForget(t *testing.T) {
	client, _ := newTestAPI(t)
	teach(ctx, client, testGroup, "Server address?", "play.example.org")
	teach(ctx, client, testGroup, "Rules?", "Be kind")

	n, err := forget(ctx, client, testGroup, "server address")
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestGroupsCommand(t *testing.T) {
	client, store := newTestAPI(t)
	store.EnsureGroup(-2002, "Book club")
	store.SetPaused(-2002, true)
	withAPIClient(t, client)
	out, _ := captureOutput(t)

	if err := execute(t, "groups"); err != nil {
		t.Fatalf("groups: %v", err)
	}
	if !strings.Contains(out.String(), "Gamers") || !strings.Contains(out.String(), "unconfigured") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExportCommand(t *testing.T) {
	client, _ := newTestAPI(t)
	teach(ctx, client, testGroup, "q", "a")
	withAPIClient(t, client)
	out, _ := captureOutput(t)

	if err := execute(t, "export", "--", "-1001"); err != nil {
		t.Fatalf("export: %v", err)
	}
	var export struct {
		Group struct {
			ID int64 `json:"id"`
		} `json:"group"`
		Knowledge []storage.KnowledgeEntry `json:"knowledge"`
	}
	if err := json.Unmarshal(out.Bytes(), &export); err != nil {
		t.Fatalf("export is not JSON: %v\n%s", err, out.String())
	}
	if export.Group.ID != testGroup || len(export.Knowledge) != 1 {
		t.Errorf("export = %+v", export)
	}
}

func TestCommands_ArgValidation(t *testing.T) {
	captureOutput(t)
	tests := [][]string{
		{"teach", "only-one"},
		{"teach", "abc", "q", "a"},
		{"forget", "1"},
		{"export"},
	}
	for _, args := range tests {
		if err := execute(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestGroupArg(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"-1001234567890", -1001234567890, false},
		{" 42 ", 42, false},
		{"12abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := groupArg(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("groupArg(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestAPIClientAuth(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "my-secret-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/groups")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q", auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	client, _ := newTestAPI(t)
	client.token = "bad-token"

	resp, err := client.get(ctx, "/groups")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid or missing bearer token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestServerNotReachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	_, err := client.get(ctx, "/groups")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestRootCommands(t *testing.T) {
	want := []string{"serve", "stop", "status", "mcp", "groups", "teach", "forget", "knowledge", "export", "config"}
	have := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = c
	}
	for _, name := range want {
		if have[name] == nil {
			t.Errorf("missing command %q", name)
		}
	}
}
