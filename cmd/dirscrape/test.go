package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/use-agent/dirscrape/config"
	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/output"
	"github.com/use-agent/dirscrape/service"
)

func newTestCmd() *cobra.Command {
	var (
		schema   schemaFlags
		fetch    fetchFlags
		saveHTML string
		samples  int
	)
	cmd := &cobra.Command{
		Use:   "test URL",
		Short: "Infer selectors for the first page and show what they extract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			initCLILogger(os.Stderr, cfg.Log)

			s, err := schema.load()
			if err != nil {
				return err
			}
			mode, err := fetch.mode()
			if err != nil {
				return err
			}

			svc := service.New(cfg, nil)
			defer svc.Close()

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			sp.Suffix = " fetching and inferring selectors"
			sp.Start()
			p, err := svc.Preview(context.Background(), &models.PreviewRequest{
				URL:       args[0],
				Schema:    s,
				FetchMode: mode,
				WaitFor:   fetch.waitFor,
				LLMAPIKey: fetch.apiKey,
				LLMModel:  fetch.model,
			}, samples)
			sp.Stop()
			if err != nil {
				return err
			}

			if saveHTML != "" {
				if err := os.WriteFile(saveHTML, []byte(p.HTML), 0o644); err != nil {
					return fmt.Errorf("save sample HTML: %w", err)
				}
			}
			return printPreview(cmd, p, saveHTML)
		},
	}
	schema.register(cmd)
	fetch.register(cmd)
	cmd.Flags().StringVar(&saveHTML, "save-html", "", "write the fetched sample page to this file")
	cmd.Flags().IntVarP(&samples, "samples", "n", crawl.DefaultPreviewSamples, "sample records to show")
	return cmd
}

func printPreview(cmd *cobra.Command, p *crawl.PreviewResult, savedTo string) error {
	out := cmd.OutOrStdout()
	sel, err := json.MarshalIndent(p.Selectors, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Selectors (%s engine):\n%s\n\n", p.EngineName, sel)
	fmt.Fprintf(out, "Items on first page: %d\n", p.ItemCount)
	if p.Next.Continue {
		fmt.Fprintf(out, "Next page:           %s\n", p.Next.URL)
	} else {
		fmt.Fprintf(out, "Next page:           none (%s)\n", p.Next.Reason)
	}
	if savedTo != "" {
		fmt.Fprintf(out, "Sample HTML:         %s\n", savedTo)
	}
	if len(p.Samples) > 0 {
		fmt.Fprintln(out, "\nSamples:")
		return output.Preview(out, p.Samples, len(p.Samples))
	}
	return nil
}
