package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/kbase/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into the knowledge base",
	Long: `Ingest content into the knowledge base.

Examples:
  kbase ingest --text "Go services should handle SIGTERM" --filename ops.md
  kbase ingest --file ./notes.md --collection research
  kbase ingest --file ./report.pdf --tags quarterly,finance`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		filename, _ := cmd.Flags().GetString("filename")
		collection, _ := cmd.Flags().GetString("collection")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			DocumentID       string `json:"document_id"`
			Collection       string `json:"collection"`
			ChunkCount       int    `json:"chunk_count"`
			ProcessingTimeMs int64  `json:"processing_time_ms"`
		}

		if text != "" {
			req := map[string]any{
				"content":    text,
				"filename":   filename,
				"collection": collection,
			}
			if tags != nil {
				req["tags"] = tags
			}
			resp, err := client.post(cmd.Context(), "/ingest/text", req)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		} else {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if filename == "" {
				filename = filepath.Base(file)
			}
			req := map[string]any{
				"content":    base64.StdEncoding.EncodeToString(data),
				"filename":   filename,
				"collection": collection,
			}
			resp, err := client.post(cmd.Context(), "/ingest/file", req)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
		}

		printSuccess("Ingested document %s into %q (%d chunks, %dms)",
			result.DocumentID, result.Collection, result.ChunkCount, result.ProcessingTimeMs)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (txt, md, pdf, docx, html)")
	ingestCmd.Flags().String("filename", "", "filename to record (default: base name of --file)")
	ingestCmd.Flags().String("collection", "", "target collection (default: the default collection)")
	ingestCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		collection, _ := cmd.Flags().GetString("collection")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat", map[string]any{
			"query":      question,
			"collection": collection,
		})
		if err != nil {
			return err
		}

		var answer struct {
			Response   string `json:"response"`
			Collection string `json:"collection"`
			Grounded   bool   `json:"grounded"`
			Sources    []struct {
				Filename    string  `json:"filename"`
				Score       float32 `json:"score"`
				TextPreview string  `json:"text_preview"`
			} `json:"sources"`
			Timings struct {
				EmbedMs    int64 `json:"query_embedding_time_ms"`
				RetrieveMs int64 `json:"retrieval_time_ms"`
				GenerateMs int64 `json:"llm_response_time_ms"`
			} `json:"timings"`
		}
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Response)

		if !answer.Grounded {
			printWarning("No relevant documents found; answer is not grounded in the knowledge base")
		}
		if len(answer.Sources) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Sources:"))
			for _, s := range answer.Sources {
				fmt.Printf("  %s [%.3f]\n", s.Filename, s.Score)
			}
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			fmt.Printf("\nembed %dms, retrieve %dms, generate %dms (collection %q)\n",
				answer.Timings.EmbedMs, answer.Timings.RetrieveMs, answer.Timings.GenerateMs,
				answer.Collection)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("collection", "", "collection to query (default: the default collection)")
	askCmd.Flags().Bool("verbose", false, "show per-stage timings")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queryText := strings.Join(args, " ")
		collection, _ := cmd.Flags().GetString("collection")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", map[string]any{
			"query":      queryText,
			"collection": collection,
			"limit":      limit,
		})
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Filename    string  `json:"filename"`
				Score       float32 `json:"score"`
				TextPreview string  `json:"text_preview"`
				ChunkIndex  int     `json:"chunk_index"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [score: %.3f] %s (chunk %d)\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score, r.Filename, r.ChunkIndex)
			fmt.Printf("  %s\n", r.TextPreview)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("collection", "", "collection to search (default: the default collection)")
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- collections ---

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage knowledge base collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/collections")
		if err != nil {
			return err
		}

		var collections []struct {
			Name          string `json:"name"`
			Description   string `json:"description"`
			DocumentCount int    `json:"document_count"`
			IsDefault     bool   `json:"is_default"`
		}
		if err := decodeJSON(resp, &collections); err != nil {
			return err
		}

		if len(collections) == 0 {
			fmt.Println("No collections found.")
			return nil
		}

		for _, c := range collections {
			marker := " "
			if c.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %s (%d docs)", marker, colorize(colorBold, c.Name), c.DocumentCount)
			if c.Description != "" {
				fmt.Printf("  %s", c.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/collections", map[string]any{
			"name":        args[0],
			"description": description,
			"created_by":  "cli",
		})
		if err != nil {
			return err
		}

		var created struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created collection %q", created.Name)
		return nil
	},
}

var collectionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a collection and its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/collections/"+args[0])
		if err != nil {
			return err
		}

		var detail any
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/collections/" + args[0]
		if force {
			path += "?force=true"
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted collection %q", args[0])
		return nil
	},
}

var collectionsDefaultCmd = &cobra.Command{
	Use:   "set-default <name>",
	Short: "Mark a collection as the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/collections/"+args[0]+"/default", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Default collection is now %q", args[0])
		return nil
	},
}

func init() {
	collectionsCreateCmd.Flags().String("description", "", "collection description")
	collectionsDeleteCmd.Flags().Bool("force", false, "delete even when the collection holds documents")
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsCreateCmd)
	collectionsCmd.AddCommand(collectionsShowCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)
	collectionsCmd.AddCommand(collectionsDefaultCmd)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List or delete stored documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in a collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/documents"
		if collection != "" {
			path += "?collection=" + collection
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			ChunkCount int    `json:"chunk_count"`
			Status     string `json:"status"`
			UploadedAt string `json:"uploaded_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-10s  %s (%d chunks)\n",
				colorize(colorCyan, d.ID[:8]), d.Status, d.Filename, d.ChunkCount)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsListCmd.Flags().String("collection", "", "collection to list (default: the default collection)")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			DocumentsIndexed   int     `json:"documents_indexed"`
			TotalDocuments     int     `json:"total_documents"`
			Collections        int     `json:"collections"`
			ChatQueriesToday   int     `json:"chat_queries_today"`
			SearchQueriesToday int     `json:"search_queries_today"`
			IndexSizeMB        float64 `json:"index_size_mb"`
			LastUpdated        string  `json:"last_updated"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Documents indexed", "%d of %d", stats.DocumentsIndexed, stats.TotalDocuments)
		printStatus("Collections", "%d", stats.Collections)
		printStatus("Chat queries today", "%d", stats.ChatQueriesToday)
		printStatus("Search queries today", "%d", stats.SearchQueriesToday)
		printStatus("Index size", "%.2f MB", stats.IndexSizeMB)
		if stats.LastUpdated != "" {
			printStatus("Last updated", "%s", stats.LastUpdated)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
