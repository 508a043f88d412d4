package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing the cookbook tools and the
// corpus stats resource.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"maicookbook",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("maicookbook — Greek recipe assistant grounded in a cookbook corpus."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_recipes",
			mcp.WithDescription("Semantically search the recipe corpus and return the best matching recipes."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 4)")),
		),
		mcpSearchRecipes(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_cookbook",
			mcp.WithDescription("Ask a cooking question and get an answer grounded in the recipe corpus."),
			mcp.WithString("query", mcp.Description("Question about recipes or cooking"), mcp.Required()),
		),
		mcpAskCookbook(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"corpus://stats",
			"Corpus Stats",
			mcp.WithResourceDescription("Recipe corpus statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchRecipes(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 0)
		if limit > 20 {
			limit = 20
		}

		docs, err := deps.Query.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(docs) == 0 {
			return mcpText("[]"), nil
		}

		type recipeResult struct {
			ID    string  `json:"id"`
			Title string  `json:"title,omitempty"`
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		}

		results := make([]recipeResult, len(docs))
		for i, d := range docs {
			results[i] = recipeResult{
				ID:    d.ID,
				Title: d.Meta.Title,
				Text:  d.Text,
				Score: d.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpAskCookbook(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		answer, err := deps.Query.Answer(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpText(answer), nil
	}
}

func mcpResourceStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats := map[string]any{
			"documents":     deps.Corpus.Len(),
			"conversations": deps.Sessions.Len(),
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
