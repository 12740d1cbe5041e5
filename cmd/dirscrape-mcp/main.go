package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the dirscrape API error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// jobResponse mirrors the dirscrape job API response.
type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Result *struct {
		Records   []json.RawMessage `json:"records"`
		Selectors json.RawMessage   `json:"selectors"`
		Visited   []string          `json:"visited"`
		Stats     struct {
			PagesVisited       int `json:"pages_visited"`
			PagesFailed        int `json:"pages_failed"`
			DetailPagesVisited int `json:"detail_pages_visited"`
			DetailPagesFailed  int `json:"detail_pages_failed"`
			DuplicatesRemoved  int `json:"duplicates_removed"`
			ElapsedMs          int `json:"elapsed_ms"`
		} `json:"stats"`
	} `json:"result"`
	Error *apiError `json:"error"`
}

// previewResponse mirrors the dirscrape selector preview API response.
type previewResponse struct {
	Success    bool              `json:"success"`
	Selectors  json.RawMessage   `json:"selectors"`
	ItemCount  int               `json:"item_count"`
	NextURL    string            `json:"next_url"`
	Samples    []json.RawMessage `json:"samples"`
	EngineUsed string            `json:"engine_used"`
	Error      *apiError         `json:"error"`
}

// maxRecordsShown caps records echoed back to the model.
const maxRecordsShown = 50

func main() {
	apiURL := os.Getenv("DIRSCRAPE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("DIRSCRAPE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "DIRSCRAPE_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"dirscrape",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_directory",
		mcp.WithDescription("Scrape every page of a directory-style website (member lists, staff pages, business listings) into structured records. An LLM infers CSS/XPath selectors once from the first page; pagination is followed automatically."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The first listing page of the directory"),
		),
		mcp.WithString("schema",
			mcp.Required(),
			mcp.Description(`JSON object mapping output field names to descriptions, e.g. {"name": "person's full name", "email": "contact email"}`),
		),
		mcp.WithString("detail_schema",
			mcp.Description("Optional JSON schema for each entry's detail page. Requires detail_url_field."),
		),
		mcp.WithString("detail_url_field",
			mcp.Description("Listing field that holds each entry's detail page URL"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum listing pages to visit (default: 50, max: 500)"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("Fetch strategy: 'auto' (default), 'http', or 'browser' for JavaScript-rendered sites"),
			mcp.Enum("auto", "http", "browser"),
		),
	)
	s.AddTool(scrapeTool, handleScrapeDirectory(apiURL, apiKey))

	previewTool := mcp.NewTool("preview_selectors",
		mcp.WithDescription("Infer selectors for the first page of a directory and return them with a few sample records, without crawling. Use this to check a schema before a full scrape."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The first listing page of the directory"),
		),
		mcp.WithString("schema",
			mcp.Required(),
			mcp.Description("JSON object mapping output field names to descriptions"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("Fetch strategy: 'auto' (default), 'http', or 'browser'"),
			mcp.Enum("auto", "http", "browser"),
		),
	)
	s.AddTool(previewTool, handlePreviewSelectors(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the dirscrape API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

// schemaArg reads a JSON-object argument given as a string.
func schemaArg(request mcp.CallToolRequest, name string, required bool) (json.RawMessage, error) {
	raw := request.GetString(name, "")
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required", name)
		}
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %v", name, err)
	}
	return json.RawMessage(raw), nil
}

func handleScrapeDirectory(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		schema, err := schemaArg(request, "schema", true)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		detailSchema, err := schemaArg(request, "detail_schema", false)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]any{
			"url":    url,
			"schema": schema,
		}
		if detailSchema != nil {
			payload["detail_schema"] = detailSchema
			payload["detail_url_field"] = request.GetString("detail_url_field", "")
		}
		if maxPages, ok := request.GetArguments()["max_pages"]; ok {
			payload["max_pages"] = maxPages
		}
		if mode := request.GetString("fetch_mode", ""); mode != "" {
			payload["fetch_mode"] = mode
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/jobs", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape request failed: %v", err)), nil
		}

		var created jobResponse
		if err := json.Unmarshal(respBody, &created); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse job response: %v", err)), nil
		}
		if created.ID == "" {
			return mcp.NewToolResultError(errorText("job creation failed", created.Error)), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/jobs/"+created.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling job failed: %v", err)), nil
		}

		var job jobResponse
		if err := json.Unmarshal(resultBody, &job); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse job status: %v", err)), nil
		}
		if job.Status != "completed" || job.Result == nil {
			return mcp.NewToolResultError(errorText("scrape failed", job.Error)), nil
		}

		r := job.Result
		var sb strings.Builder
		fmt.Fprintf(&sb, "Scraped %d records from %d pages of %s (%d pages failed, %d duplicates removed, %dms)\n",
			len(r.Records), r.Stats.PagesVisited, job.URL, r.Stats.PagesFailed, r.Stats.DuplicatesRemoved, r.Stats.ElapsedMs)
		if r.Stats.DetailPagesVisited+r.Stats.DetailPagesFailed > 0 {
			fmt.Fprintf(&sb, "Detail pages: %d fetched, %d failed\n", r.Stats.DetailPagesVisited, r.Stats.DetailPagesFailed)
		}
		fmt.Fprintf(&sb, "Selectors: %s\n\n", r.Selectors)

		shown := min(len(r.Records), maxRecordsShown)
		sb.WriteString("[\n")
		for i, rec := range r.Records[:shown] {
			sb.WriteString("  ")
			sb.Write(rec)
			if i < shown-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("]\n")
		if shown < len(r.Records) {
			fmt.Fprintf(&sb, "\n(%d more records omitted; fetch /api/v1/jobs/%s for the full result)\n", len(r.Records)-shown, job.ID)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handlePreviewSelectors(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		schema, err := schemaArg(request, "schema", true)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]any{
			"url":    url,
			"schema": schema,
		}
		if mode := request.GetString("fetch_mode", ""); mode != "" {
			payload["fetch_mode"] = mode
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/selectors", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("preview request failed: %v", err)), nil
		}

		var p previewResponse
		if err := json.Unmarshal(respBody, &p); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse preview response: %v", err)), nil
		}
		if !p.Success {
			return mcp.NewToolResultError(errorText("preview failed", p.Error)), nil
		}

		var sel bytes.Buffer
		if err := json.Indent(&sel, p.Selectors, "", "  "); err != nil {
			sel.Write(p.Selectors)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Selectors (%s engine):\n%s\n\n", p.EngineUsed, sel.String())
		fmt.Fprintf(&sb, "Items on first page: %d\n", p.ItemCount)
		if p.NextURL != "" {
			fmt.Fprintf(&sb, "Next page: %s\n", p.NextURL)
		} else {
			sb.WriteString("Next page: none found\n")
		}
		if len(p.Samples) > 0 {
			sb.WriteString("\nSamples:\n")
			for i, rec := range p.Samples {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, rec)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func errorText(fallback string, e *apiError) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}
