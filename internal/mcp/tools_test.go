package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

func callTool(t *testing.T, h server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	var req gomcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := gomcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	return text.Text, res.IsError
}

func newAPIServer(t *testing.T) (*httptest.Server, *[]types.RunRequest) {
	t.Helper()
	var started []types.RunRequest
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.Status{Busy: true, ActiveRun: "r1", ActiveCommand: types.CommandDeploy, Wallets: 4, Proxies: 2})
	})
	mux.HandleFunc("/v1/wallets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"wallets": []types.Wallet{{Index: 1, Address: "0x1111111111111111111111111111111111111111"}},
			"total":   1,
		})
	})
	mux.HandleFunc("/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("offset") != "10" {
			http.Error(w, `{"error":"unexpected pagination"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(types.PaginatedRuns{
			Runs:   []types.RunSummary{{ID: "r1", Command: types.CommandMintNFT, Status: types.RunStatusCompleted, Succeeded: 3}},
			Total:  11,
			Limit:  5,
			Offset: 10,
		})
	})
	mux.HandleFunc("/v1/runs/r1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.RunDetail{
			RunSummary: types.RunSummary{ID: "r1", Command: types.CommandDistribute, Status: types.RunStatusCompleted,
				CompletedAt: &completed, Failed: 1, Error: "1 of 1 items failed"},
			Events: []types.Event{{
				Account:  "0x1111111111111111111111111111111111111111",
				Step:     "USDT bridge",
				Status:   types.EventFailed,
				Attempts: 3,
				Error:    "execution reverted",
			}},
		})
	})
	mux.HandleFunc("/v1/runs/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Run not found"}`))
	})
	mux.HandleFunc("/v1/run", func(w http.ResponseWriter, r *http.Request) {
		var req types.RunRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Command == types.CommandMintNFT {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"another command is running"}`))
			return
		}
		started = append(started, req)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(types.RunResponse{ID: "r2", Command: req.Command})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ready":false,"checks":[{"name":"l1-rpc","status":"failed","latency_ms":12,"error":"connection refused"},{"name":"l2-rpc","status":"ok","latency_ms":3}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &started
}

func TestReadTools(t *testing.T) {
	srv, _ := newAPIServer(t)
	client := NewClient(srv.URL + "/")

	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]any
		want    []string
		isError bool
	}{
		{"status", statusHandler(client), nil, []string{"running deploy (r1)", "Wallets:", "4"}, false},
		{"wallets", walletsHandler(client), nil, []string{"Wallets (1)", "1. 0x1111"}, false},
		{"runs", runsHandler(client), map[string]any{"limit": 5, "offset": 10}, []string{"Run History (11-11 of 11)", "mint-nft"}, false},
		{"run", runHandler(client), map[string]any{"id": "r1"}, []string{"distribute", "USDT bridge failed 0x1111...1111", "after 3 attempts", "2026-01-02T03:04:05Z"}, false},
		{"run not found", runHandler(client), map[string]any{"id": "missing"}, []string{"HTTP 404: Run not found"}, true},
		{"run without id", runHandler(client), nil, []string{"id is required"}, true},
		{"health not ready", healthHandler(client), nil, []string{"Ready:", "false", "connection refused"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isError := callTool(t, tt.handler, tt.args)
			if isError != tt.isError {
				t.Errorf("isError = %v, want %v (%s)", isError, tt.isError, text)
			}
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("result missing %q:\n%s", w, text)
				}
			}
		})
	}
}

func TestRunCommandTool(t *testing.T) {
	srv, started := newAPIServer(t)
	client := NewClient(srv.URL)
	h := runCommandHandler(client)

	text, isError := callTool(t, h, map[string]any{"command": "distribute", "amount": "0.05"})
	if isError || !strings.Contains(text, "r2") {
		t.Fatalf("result = %q (error %v)", text, isError)
	}
	if len(*started) != 1 || (*started)[0].Amount != "0.05" || (*started)[0].Command != types.CommandDistribute {
		t.Errorf("started = %+v", *started)
	}

	text, isError = callTool(t, h, map[string]any{"command": "create-wallets", "count": 7})
	if isError || (*started)[1].Count != 7 {
		t.Errorf("create-wallets: %q, started %+v", text, *started)
	}

	text, isError = callTool(t, h, map[string]any{"command": "mint-nft"})
	if !isError || !strings.Contains(text, "Another command is running") {
		t.Errorf("busy result = %q (error %v)", text, isError)
	}

	if _, isError = callTool(t, h, nil); !isError {
		t.Error("missing command accepted")
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	text, isError := callTool(t, statusHandler(client), nil)
	if !isError || !strings.Contains(text, "Bot unreachable") {
		t.Errorf("result = %q", text)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := formatWallets(json.RawMessage(`{"wallets":[],"total":0}`)); !strings.Contains(got, "No wallets") {
		t.Errorf("formatWallets = %q", got)
	}
	if got := formatRuns(json.RawMessage(`{"runs":[],"total":0}`)); !strings.Contains(got, "No runs") {
		t.Errorf("formatRuns = %q", got)
	}
	if got := formatStatus(json.RawMessage(`{}`)); !strings.Contains(got, "idle") {
		t.Errorf("formatStatus = %q", got)
	}
	if got := formatStatus(json.RawMessage(`not json`)); !strings.Contains(got, "Error parsing") {
		t.Errorf("formatStatus = %q", got)
	}
}

func TestRegisterTools(t *testing.T) {
	s := server.NewMCPServer("testnetbot", "test", server.WithToolCapabilities(true))
	RegisterTools(s, NewClient("http://localhost:3002"))
	tools := s.ListTools()
	for _, name := range []string{"get_status", "check_health", "list_wallets", "list_runs", "get_run", "run_command"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}
