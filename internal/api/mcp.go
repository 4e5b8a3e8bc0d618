package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing the knowledge base as tools
// and resources for agent clients.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"kbase",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kbase: local knowledge base with document ingestion, semantic search, and retrieval-augmented answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("kb_ingest",
			mcp.WithDescription("Store a document into the knowledge base for later retrieval."),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("filename", mcp.Description("Filename for the document (default untitled.txt)")),
			mcp.WithString("collection", mcp.Description("Target collection; falls back to the default collection when missing")),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpIngest(deps),
	)

	s.AddTool(
		mcp.NewTool("kb_search",
			mcp.WithDescription("Semantically search the knowledge base and return matching chunks with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("collection", mcp.Description("Collection to search; falls back to the default collection when missing")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("kb_ask",
			mcp.WithDescription("Answer a question using retrieved knowledge base context, with cited sources."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("collection", mcp.Description("Collection to query; falls back to the default collection when missing")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("kb_collections",
			mcp.WithDescription("List knowledge base collections with document counts."),
		),
		mcpCollections(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kb://stats",
			"Knowledge Base Stats",
			mcp.WithResourceDescription("Document counts, query counters, and index size as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpIngest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		filename := req.GetString("filename", "untitled.txt")
		collection := req.GetString("collection", "")
		tags := req.GetStringSlice("tags", nil)

		res, err := deps.Ingestor.IngestText(ctx, collection, content, filename, tags)
		if err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored document %s in collection %q (%d chunks)",
			res.DocumentID, res.Collection, res.ChunkCount)), nil
	}
}

func mcpSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queryText, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		collection := req.GetString("collection", "")
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		sources, err := deps.Query.Search(ctx, collection, queryText, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(sources) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(sources)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		collection := req.GetString("collection", "")

		answer, err := deps.Query.Ask(ctx, collection, question)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpCollections(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collections, err := deps.Manager.List()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list collections: %v", err)), nil
		}

		out := make([]collectionResponse, len(collections))
		for i, c := range collections {
			out[i] = toCollectionResponse(c)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal collections: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := collectStats(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
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
