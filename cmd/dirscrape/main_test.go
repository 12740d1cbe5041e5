package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/dirscrape/crawl"
	"github.com/use-agent/dirscrape/engine"
	"github.com/use-agent/dirscrape/models"
)

func TestSchemaFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "full name", "email": "contact email"}`), 0o644))

	s, err := (&schemaFlags{path: path}).load()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, s.Names())

	s, err = (&schemaFlags{inline: `{"title": "job title"}`}).load()
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, s.Names())

	_, err = (&schemaFlags{}).load()
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))

	_, err = (&schemaFlags{path: path, inline: `{"a": "b"}`}).load()
	assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
}

func TestFetchFlagsMode(t *testing.T) {
	tests := []struct {
		name    string
		flags   fetchFlags
		want    string
		wantErr bool
	}{
		{"unset uses config", fetchFlags{}, "", false},
		{"browser flag", fetchFlags{browser: true}, engine.ModeBrowser, false},
		{"browser flag and mode agree", fetchFlags{browser: true, fetchMode: "browser"}, engine.ModeBrowser, false},
		{"browser flag conflicts", fetchFlags{browser: true, fetchMode: "http"}, "", true},
		{"explicit http", fetchFlags{fetchMode: "http"}, engine.ModeHTTP, false},
		{"unknown mode", fetchFlags{fetchMode: "curl"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.mode()
			if tt.wantErr {
				assert.Equal(t, models.ErrCodeConfiguration, models.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunRequest(t *testing.T) {
	dir := t.TempDir()
	detail := filepath.Join(dir, "detail.json")
	require.NoError(t, os.WriteFile(detail, []byte(`{"phone": "phone number"}`), 0o644))

	o := runOptions{
		schema:         schemaFlags{inline: `{"name": "n", "profile": "profile link"}`},
		fetch:          fetchFlags{browser: true, waitFor: ".member", apiKey: "sk-test"},
		maxPages:       7,
		detailSchema:   detail,
		detailURLField: "profile",
		noDedupe:       true,
		provenance:     true,
		timeout:        15 * time.Second,
	}
	req, err := o.request("https://example.org/members")
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/members", req.URL)
	assert.Equal(t, 7, req.MaxPages)
	assert.Equal(t, engine.ModeBrowser, req.FetchMode)
	assert.Equal(t, ".member", req.WaitFor)
	assert.Equal(t, 15, req.Timeout)
	assert.Equal(t, "sk-test", req.LLMAPIKey)
	assert.True(t, req.IncludeProvenance)
	require.NotNil(t, req.Dedupe)
	assert.False(t, *req.Dedupe)
	require.NotNil(t, req.DetailSchema)
	assert.Equal(t, []string{"phone"}, req.DetailSchema.Names())
	assert.Equal(t, "profile", req.DetailURLField)
}

func TestProgressLine(t *testing.T) {
	assert.Equal(t, " inferring selectors", progressLine(crawl.Progress{Stage: crawl.StageInfer}))
	assert.Equal(t, " listing pages: 2 scraped, 40 records", progressLine(crawl.Progress{Stage: crawl.StageCrawl, Pages: 2, Records: 40}))
	assert.Equal(t, " detail pages: 3 fetched, 40 records", progressLine(crawl.Progress{Stage: crawl.StageDetail, DetailPages: 3, Records: 40}))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dirscrape "+version+"\n", out.String())
}

func TestRunRequiresURL(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run"})
	assert.Error(t, cmd.Execute())
}
