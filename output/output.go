// Package output writes scrape results for humans and files.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/dirscrape/models"
)

// WriteJSON writes the records as an indented JSON array.
func WriteJSON(w io.Writer, res *models.ScrapeResult, withProvenance bool) error {
	raw, err := res.RecordsJSON(withProvenance)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

// WriteFile writes the records to path, creating parent directories.
func WriteFile(path string, res *models.ScrapeResult, withProvenance bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := WriteJSON(f, res, withProvenance); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Preview writes the first n records, one indented object each.
func Preview(w io.Writer, records []*models.Record, n int) error {
	for i, rec := range records {
		if i >= n {
			break
		}
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%d. %s\n", i+1, b); err != nil {
			return err
		}
	}
	return nil
}

// Summary writes a short human-readable account of a run.
func Summary(w io.Writer, res *models.ScrapeResult) error {
	st := res.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "Records:        %d\n", len(res.Records))
	fmt.Fprintf(&b, "Listing pages:  %d visited, %d failed", st.PagesVisited, st.PagesFailed)
	if st.DuplicatePages > 0 {
		fmt.Fprintf(&b, ", %d repeated", st.DuplicatePages)
	}
	b.WriteByte('\n')
	if st.DetailPagesVisited+st.DetailPagesFailed > 0 {
		fmt.Fprintf(&b, "Detail pages:   %d visited, %d failed\n", st.DetailPagesVisited, st.DetailPagesFailed)
	}
	if st.RecordsDropped+st.DuplicatesRemoved > 0 {
		fmt.Fprintf(&b, "Removed:        %d empty, %d duplicate\n", st.RecordsDropped, st.DuplicatesRemoved)
	}
	fmt.Fprintf(&b, "LLM calls:      %d\n", st.InferenceCalls)
	fmt.Fprintf(&b, "Elapsed:        %dms\n", st.ElapsedMs)
	_, err := io.WriteString(w, b.String())
	return err
}
