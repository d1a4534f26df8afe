package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"policyreader/internal/config"
)

type cli struct {
	t   *testing.T
	dir string
	db  string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, dir: dir, db: filepath.Join(dir, "local.db")}
}

func (c *cli) run(args ...string) (string, error) {
	cfg := config.Load()
	cfg.LLMProviders = "mock"
	cfg.AllowMockLLM = true
	cfg.NotifyBackends = "log"
	cfg.LogLevel = "error"
	cfg.DataInRoot = c.dir
	cfg.DataOutRoot = ""
	var out bytes.Buffer
	e := &env{cfg: cfg, out: &out}
	root := newRootCmd(e)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", c.db}, args...))
	err := root.ExecuteContext(context.Background())
	e.close(context.Background())
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func TestAddListReset(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(c.dir, "Motor Policy.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF-1.4"), 0o644))

	var added documentSummary
	require.NoError(t, json.Unmarshal([]byte(c.must("add", file, "-c", "Motor")), &added))
	require.Equal(t, "Motor Policy", added.Title)
	require.Equal(t, "Draft", added.Status)

	var listed []documentSummary
	require.NoError(t, json.Unmarshal([]byte(c.must("list", "--status", "Draft")), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, added.ID, listed[0].ID)

	var reset documentSummary
	require.NoError(t, json.Unmarshal([]byte(c.must("reset", added.ID)), &reset))
	require.Equal(t, "Draft", reset.Status)

	_, err := c.run("list", "--status", "Archived")
	require.ErrorContains(t, err, `invalid status "Archived"`)
}

func TestAddRejectsUnknownCategory(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("add", "x.pdf", "-c", "Marine")
	require.Error(t, err)
}

func TestProcessRejectsMissingSource(t *testing.T) {
	c := newCLI(t)
	var added documentSummary
	require.NoError(t, json.Unmarshal([]byte(c.must("add", filepath.Join(c.dir, "gone.pdf"), "-c", "Health")), &added))

	_, err := c.run("process", added.ID)
	require.Error(t, err)

	var listed []documentSummary
	require.NoError(t, json.Unmarshal([]byte(c.must("list")), &listed))
	require.Equal(t, "Draft", listed[0].Status)
}

func TestAliasesAndPrompt(t *testing.T) {
	c := newCLI(t)

	var m struct {
		Category    string            `json:"category"`
		Fingerprint string            `json:"fingerprint"`
		Entries     []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.must("aliases", "Motor")), &m))
	require.Equal(t, "Motor", m.Category)
	require.NotEmpty(t, m.Fingerprint)
	require.NotEmpty(t, m.Entries)

	var p map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.must("prompt", "Motor")), &p))
	require.Equal(t, "built", p["source"])
	require.NotEmpty(t, p["template"])

	// The second process reads the template persisted by the first.
	require.NoError(t, json.Unmarshal([]byte(c.must("prompt", "Motor")), &p))
	require.Equal(t, "cached", p["source"])

	_, err := c.run("aliases", "Marine")
	require.Error(t, err)
}

func TestSweepAndExport(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(c.dir, "health.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF-1.4"), 0o644))
	c.must("add", file, "-c", "Health")

	var report struct {
		Scanned int `json:"scanned"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.must("sweep")), &report))
	require.Equal(t, 0, report.Scanned)

	out := filepath.Join(c.dir, "out", "docs.xlsx")
	c.must("export", "-o", out)
	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Documents")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "health", rows[1][1])
}
