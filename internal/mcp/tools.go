package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/testnetbot/pkg/types"
)

// RegisterTools registers all bot tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(statusTool(), statusHandler(client))
	s.AddTool(healthTool(), healthHandler(client))
	s.AddTool(walletsTool(), walletsHandler(client))
	s.AddTool(runsTool(), runsHandler(client))
	s.AddTool(runTool(), runHandler(client))
	s.AddTool(runCommandTool(), runCommandHandler(client))
}

func statusTool() gomcp.Tool {
	return gomcp.NewTool("get_status",
		gomcp.WithDescription("Get bot status: whether a command is running, wallet and proxy counts, next scheduled deploy."),
	)
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Bot unreachable: %v\n\nIs deployd running?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthTool() gomcp.Tool {
	return gomcp.NewTool("check_health",
		gomcp.WithDescription("Check L1 (Sepolia) and L2 (Haust) RPC connectivity."),
	)
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusServiceUnavailable {
				// The body still carries the per-check results.
				return gomcp.NewToolResultError(formatHealth(httpErr.Body)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Bot unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

func walletsTool() gomcp.Tool {
	return gomcp.NewTool("list_wallets",
		gomcp.WithDescription("List stored wallet addresses. Private keys are never returned."),
	)
}

func walletsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/wallets")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("List wallets failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatWallets(raw)), nil
	}
}

func runsTool() gomcp.Tool {
	return gomcp.NewTool("list_runs",
		gomcp.WithDescription("List command runs, newest first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
}

func runsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		raw, err := client.Get(ctx, fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("List runs failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	}
}

func runTool() gomcp.Tool {
	return gomcp.NewTool("get_run",
		gomcp.WithDescription("Get one run with its per-wallet step events."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
}

func runHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Get run failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRun(raw)), nil
	}
}

func runCommandTool() gomcp.Tool {
	return gomcp.NewTool("run_command",
		gomcp.WithDescription("Start a bot command in the background. This is a MUTATING operation. "+
			"Only one command runs at a time. Commands: create-wallets, claim-faucet, deploy, distribute, mint-nft, test-proxies."),
		gomcp.WithString("command",
			gomcp.Required(),
			gomcp.Description("Command to run"),
			gomcp.Enum(
				string(types.CommandCreateWallets),
				string(types.CommandClaimFaucet),
				string(types.CommandDeploy),
				string(types.CommandDistribute),
				string(types.CommandMintNFT),
				string(types.CommandTestProxies),
			),
		),
		gomcp.WithNumber("count",
			gomcp.Description("Number of wallets to create (create-wallets, 1-1000)"),
		),
		gomcp.WithString("amount",
			gomcp.Description("Sepolia ETH sent from the first wallet to each other wallet before bridging (distribute, optional)"),
		),
	)
}

func runCommandHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return gomcp.NewToolResultError("command is required"), nil
		}
		payload := types.RunRequest{
			Command: types.Command(command),
			Count:   req.GetInt("count", 0),
			Amount:  req.GetString("amount", ""),
		}

		raw, err := client.Post(ctx, "/v1/run", payload)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
				return gomcp.NewToolResultError("Another command is running. Check get_status and try again later."), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
		}

		var resp types.RunResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error parsing response: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Started"),
			kv("ID", resp.ID),
			kv("Command", resp.Command),
			"Use get_run with this ID to follow progress.",
		)), nil
	}
}
