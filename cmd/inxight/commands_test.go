package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/inxource/inxight/internal/api"
	"github.com/inxource/inxight/internal/config"
	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/report"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

type cannedResponse struct {
	code int
	body string
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	canned := make(map[string]cannedResponse, len(responses))
	for k, v := range responses {
		canned[k] = cannedResponse{code: http.StatusOK, body: v}
	}
	return newTestServerWithCodes(t, canned)
}

func newTestServerWithCodes(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.code)
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useClient points the commands at ts for the duration of the test.
func (ts *testServer) useClient(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

var ctx = context.Background()

func TestLatestReport(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /insights/weekly/latest": `{"id":"r-1","type":"weekly","created_at":"2026-05-01T00:00:00.000000Z","insight":{"orders":{"concern":"Refunds up","recommendation":"Audit refunds"}}}`,
	})

	resp, err := ts.client().get(ctx, "/insights/weekly/latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var view api.ReportView
	if err := decodeJSON(resp, &view); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if view.ID != "r-1" || view.Type != "weekly" {
		t.Errorf("view = %+v", view)
	}

	var batch insight.Batch
	if err := json.Unmarshal(view.Insight, &batch); err != nil {
		t.Fatalf("insight is not a batch: %v", err)
	}
	if batch["orders"].Concern != "Refunds up" {
		t.Errorf("orders concern = %q", batch["orders"].Concern)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServerWithCodes(t, map[string]cannedResponse{
		"GET /insights/monthly/latest": {code: 404, body: `{"error":{"message":"no monthly report has been generated yet","type":"no_report"}}`},
	})

	resp, err := ts.client().get(ctx, "/insights/monthly/latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view api.ReportView
	err = decodeJSON(resp, &view)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no monthly report") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestGenerateRemote(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /insights/weekly/generate": `{"success":true,"message":"Weekly insights generated successfully","generated":true,"report_id":"r-9"}`,
	})

	res, err := generateRemote(ctx, ts.client(), insight.Weekly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || !res.Generated || res.ReportID != "r-9" {
		t.Errorf("result = %+v", res)
	}
	if ts.requests[0].Method != "POST" || ts.requests[0].Path != "/insights/weekly/generate" {
		t.Errorf("request = %+v", ts.requests[0])
	}
}

func TestGenerateRemote_NotDue(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /insights/monthly/generate": `{"success":true,"message":"Monthly insights not due yet (12 days remaining)","generated":false,"days_remaining":12}`,
	})

	res, err := generateRemote(ctx, ts.client(), insight.Monthly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Generated || res.DaysRemaining == nil || *res.DaysRemaining != 12 {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateRemote_FailedRunDecodesResult(t *testing.T) {
	ts := newTestServerWithCodes(t, map[string]cannedResponse{
		"POST /insights/weekly/generate": {code: 500, body: `{"success":false,"message":"Error saving weekly insights: disk full","generated":false}`},
	})

	res, err := generateRemote(ctx, ts.client(), insight.Weekly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || !strings.Contains(res.Message, "disk full") {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateRemote_Unauthorized(t *testing.T) {
	ts := newTestServerWithCodes(t, map[string]cannedResponse{
		"POST /insights/weekly/generate": {code: 401, body: `{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`},
	})

	_, err := generateRemote(ctx, ts.client(), insight.Weekly)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want a 401 error", err)
	}
}

func TestServerNotRunning(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestClientOmitsEmptyToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want none", ts.requests[0].Auth)
	}
}

func TestRunsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /insights/runs": `[{"id":"run-1","type":"weekly","started_at":"2026-05-01T00:00:00.000000Z","duration_ms":1500,"outcome":"generated","tables":14,"extraction_faults":0,"generation_faults":1}]`,
	})
	ts.useClient(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"runs", "--limit", "5", "--cadence", "weekly"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("runs: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if got := ts.requests[0].Path; got != "/insights/runs?limit=5&cadence=weekly" {
		t.Errorf("path = %q", got)
	}
}

func TestHistoryCommand_InvalidCadence(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.useClient(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"history", "daily"})
	err := rootCmd.Execute()
	if !errors.Is(err, insight.ErrUnknownCadence) {
		t.Errorf("error = %v, want ErrUnknownCadence", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("made %d requests for an invalid cadence", len(ts.requests))
	}
}

func TestHistoryCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /insights/monthly/history": `[{"id":"r-2","type":"monthly","created_at":"2026-05-01T00:00:00.000000Z","insight":{"users":{"concern":"c","recommendation":"r"}}}]`,
	})
	ts.useClient(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"history", "monthly", "--limit", "3"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("history: %v", err)
	}
	if got := ts.requests[0].Path; got != "/insights/monthly/history?limit=3" {
		t.Errorf("path = %q", got)
	}
}

func TestCadencesFlag(t *testing.T) {
	tests := []struct {
		value string
		want  []insight.Cadence
		err   bool
	}{
		{"", insight.Cadences, false},
		{"all", insight.Cadences, false},
		{"weekly", []insight.Cadence{insight.Weekly}, false},
		{"monthly", []insight.Cadence{insight.Monthly}, false},
		{"daily", nil, true},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{}
		cmd.Flags().String("cadence", "", "")
		cmd.Flags().Set("cadence", tt.value)

		got, err := cadencesFlag(cmd)
		if (err != nil) != tt.err {
			t.Errorf("cadencesFlag(%q) error = %v", tt.value, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("cadencesFlag(%q) = %v, want %v", tt.value, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("cadencesFlag(%q) = %v, want %v", tt.value, got, tt.want)
			}
		}
	}
}

func TestWriteBatch(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	writeBatch(&buf, json.RawMessage(`{"users":{"concern":"Signups flat","recommendation":"Run a campaign"},"orders":{"concern":"Refunds up","recommendation":"Audit"}}`))

	out := buf.String()
	if strings.Index(out, "orders") > strings.Index(out, "users") {
		t.Errorf("tables not in name order:\n%s", out)
	}
	if !strings.Contains(out, "Concern: Signups flat") || !strings.Contains(out, "Recommendation: Audit") {
		t.Errorf("output missing fields:\n%s", out)
	}

	buf.Reset()
	writeBatch(&buf, json.RawMessage(`"legacy text"`))
	if strings.TrimSpace(buf.String()) != `"legacy text"` {
		t.Errorf("non-batch payload = %q", buf.String())
	}
}

func TestDescribeStatus(t *testing.T) {
	days := 3
	next := time.Date(2026, 5, 13, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		st   report.Status
		want string
	}{
		{report.Status{State: report.NoPriorReport}, "no report yet, due now"},
		{report.Status{State: report.Stale}, "due now"},
		{report.Status{State: report.Fresh, DaysRemaining: &days, NextDue: &next}, "fresh, 3 days remaining (next due 2026-05-13)"},
	}
	for _, tt := range tests {
		if got := describeStatus(tt.st); got != tt.want {
			t.Errorf("describeStatus(%v) = %q, want %q", tt.st.State, got, tt.want)
		}
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:4100"},
		{"0.0.0.0", "http://127.0.0.1:4100"},
		{"", "http://127.0.0.1:4100"},
		{"insights.internal", "http://insights.internal:4100"},
	}
	for _, tt := range tests {
		cfg := config.Config{Server: config.ServerConfig{Host: tt.host, Port: 4100}}
		if got := serverURL(cfg); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
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
