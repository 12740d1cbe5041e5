package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/output"
	"github.com/use-agent/dirscrape/service"
)

// previewCount is how many records are printed when no output file is given.
const previewCount = 3

// schemaFlags are shared by run and test.
type schemaFlags struct {
	path   string
	inline string
}

func (f *schemaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "schema", "s", "", "path to a JSON schema file: {\"field\": \"description\", ...}")
	cmd.Flags().StringVarP(&f.inline, "schema-json", "j", "", "inline JSON schema")
}

func (f *schemaFlags) load() (*models.Schema, error) {
	switch {
	case f.path != "" && f.inline != "":
		return nil, models.ConfigError("use either --schema or --schema-json, not both")
	case f.path != "":
		return models.LoadSchema(f.path)
	case f.inline != "":
		return models.ParseSchema([]byte(f.inline))
	default:
		return nil, models.ConfigError("a schema is required: pass --schema FILE or --schema-json JSON")
	}
}

// fetchFlags are shared by run and test.
type fetchFlags struct {
	browser   bool
	fetchMode string
	waitFor   string
	apiKey    string
	model     string
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.browser, "browser", "b", false, "render pages in headless Chrome (same as --fetch-mode browser)")
	cmd.Flags().StringVar(&f.fetchMode, "fetch-mode", "", "fetch strategy: http, browser or auto (default from DIRSCRAPE_FETCH_MODE)")
	cmd.Flags().StringVar(&f.waitFor, "wait-for", "", "CSS selector the browser waits for before reading a page")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "LLM API key (default from DIRSCRAPE_LLM_API_KEY or OPENAI_API_KEY)")
	cmd.Flags().StringVar(&f.model, "model", "", "LLM model (default from DIRSCRAPE_LLM_MODEL)")
}

func (f *fetchFlags) mode() (string, error) {
	if f.browser {
		if f.fetchMode != "" && f.fetchMode != engine.ModeBrowser {
			return "", models.ConfigError("--browser conflicts with --fetch-mode %s", f.fetchMode)
		}
		return engine.ModeBrowser, nil
	}
	if f.fetchMode != "" && !engine.ValidMode(f.fetchMode) {
		return "", models.ConfigError("unknown fetch mode %q (want http, browser or auto)", f.fetchMode)
	}
	return f.fetchMode, nil
}

type runOptions struct {
	schema         schemaFlags
	fetch          fetchFlags
	output         string
	maxPages       int
	maxConcurrent  int
	detailSchema   string
	detailURLField string
	noDedupe       bool
	provenance     bool
	timeout        time.Duration
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run URL",
		Short: "Scrape every page of a directory listing",
		Example: `  dirscrape run https://example.org/members -s schema.json -o members.json
  dirscrape run https://example.org/staff -j '{"name": "full name", "email": "email"}' -p 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, args[0], &o)
		},
	}
	o.schema.register(cmd)
	o.fetch.register(cmd)
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write records as a JSON array to this file")
	cmd.Flags().IntVarP(&o.maxPages, "max-pages", "p", 0, "maximum listing pages to visit (default from DIRSCRAPE_MAX_PAGES)")
	cmd.Flags().IntVar(&o.maxConcurrent, "max-concurrent", 0, "maximum pages fetched at once (default from DIRSCRAPE_MAX_CONCURRENT)")
	cmd.Flags().StringVarP(&o.detailSchema, "detail-schema", "d", "", "path to a JSON schema for each entry's detail page")
	cmd.Flags().StringVar(&o.detailURLField, "detail-url-field", "", "listing field holding the detail page URL")
	cmd.Flags().BoolVar(&o.noDedupe, "no-dedupe", false, "keep records with identical values")
	cmd.Flags().BoolVar(&o.provenance, "provenance", false, "add a _provenance object to each record")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "per-page fetch timeout (default from DIRSCRAPE_PAGE_TIMEOUT)")
	return cmd
}

func (o *runOptions) request(url string) (*models.ScrapeRequest, error) {
	schema, err := o.schema.load()
	if err != nil {
		return nil, err
	}
	mode, err := o.fetch.mode()
	if err != nil {
		return nil, err
	}
	req := &models.ScrapeRequest{
		URL:               url,
		Schema:            schema,
		DetailURLField:    o.detailURLField,
		MaxPages:          o.maxPages,
		MaxConcurrent:     o.maxConcurrent,
		FetchMode:         mode,
		WaitFor:           o.fetch.waitFor,
		IncludeProvenance: o.provenance,
		Timeout:           int(o.timeout / time.Second),
		LLMAPIKey:         o.fetch.apiKey,
		LLMModel:          o.fetch.model,
	}
	if o.detailSchema != "" {
		if req.DetailSchema, err = models.LoadSchema(o.detailSchema); err != nil {
			return nil, err
		}
	}
	dedupe := !o.noDedupe
	req.Dedupe = &dedupe
	return req, nil
}

func runScrape(cmd *cobra.Command, url string, o *runOptions) error {
	cfg := config.Load()
	initCLILogger(os.Stderr, cfg.Log)

	req, err := o.request(url)
	if err != nil {
		return err
	}

	svc := service.New(cfg, nil)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " inferring selectors for " + url
	sp.Start()
	res, _, err := svc.Scrape(ctx, req, func(p crawl.Progress) {
		sp.Lock()
		sp.Suffix = progressLine(p)
		sp.Unlock()
	})
	sp.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.output != "" {
		if err := output.WriteFile(o.output, res, o.provenance); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %d records to %s\n", len(res.Records), o.output)
	} else if len(res.Records) > 0 {
		fmt.Fprintf(out, "First %d of %d records:\n", min(previewCount, len(res.Records)), len(res.Records))
		if err := output.Preview(out, res.Records, previewCount); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return output.Summary(out, res)
}

func progressLine(p crawl.Progress) string {
	switch p.Stage {
	case crawl.StageInfer:
		return " inferring selectors"
	case crawl.StageDetail:
		return fmt.Sprintf(" detail pages: %d fetched, %d records", p.DetailPages, p.Records)
	default:
		return fmt.Sprintf(" listing pages: %d scraped, %d records", p.Pages, p.Records)
	}
}
