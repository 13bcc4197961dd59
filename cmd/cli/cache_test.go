package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSeedThenCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seed := filepath.Join(dir, "posts.json")
	_ = os.WriteFile(seed, []byte(`[
		{"title":"Welcome","status":"published"},
		{"id":"fixed-id","title":"Second","created_at":"2024-01-01T00:00:00Z"},
		{"title":"Third"}
	]`), 0o600)
	cacheDir := filepath.Join(dir, "cache")
	ctx := context.Background()

	var out bytes.Buffer
	err := cmdSeed(ctx, []string{"-c", "blog_posts", "-file", seed, "-dir", cacheDir}, &out)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out.String(), "seeded 3") {
		t.Fatalf("seed output: %s", out.String())
	}

	out.Reset()
	if err := cmdCache(ctx, []string{"-dir", cacheDir}, &out); err != nil {
		t.Fatalf("cache: %v", err)
	}
	var summary map[string]int
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil || summary["blog_posts"] != 3 {
		t.Fatalf("summary: %s %v", out.String(), err)
	}

	out.Reset()
	if err := cmdCache(ctx, []string{"-dir", cacheDir, "-c", "blog_posts"}, &out); err != nil {
		t.Fatalf("cache dump: %v", err)
	}
	var recs []map[string]any
	if err := json.Unmarshal(out.Bytes(), &recs); err != nil || len(recs) != 3 {
		t.Fatalf("dump: %s %v", out.String(), err)
	}
	if recs[1]["id"] != "fixed-id" || recs[1]["created_at"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("provided id/timestamp must be kept: %v", recs[1])
	}
	if recs[0]["id"] == "" {
		t.Fatalf("missing id must be assigned: %v", recs[0])
	}

	// replace drops what was there
	one := filepath.Join(dir, "one.json")
	_ = os.WriteFile(one, []byte(`[{"title":"Only"}]`), 0o600)
	out.Reset()
	if err := cmdSeed(ctx, []string{"-c", "blog_posts", "-file", one, "-dir", cacheDir, "-replace"}, &out); err != nil {
		t.Fatalf("seed replace: %v", err)
	}
	out.Reset()
	_ = cmdCache(ctx, []string{"-dir", cacheDir}, &out)
	summary = nil
	_ = json.Unmarshal(out.Bytes(), &summary)
	if summary["blog_posts"] != 1 {
		t.Fatalf("replace kept old records: %v", summary)
	}
}

func TestSeedRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	obj := filepath.Join(dir, "obj.json")
	_ = os.WriteFile(obj, []byte(`{"title":"not an array"}`), 0o600)
	ctx := context.Background()
	var out bytes.Buffer

	if err := cmdSeed(ctx, []string{"-c", "blog_posts", "-file", obj, "-dir", dir}, &out); err == nil {
		t.Fatalf("object instead of array accepted")
	}
	if err := cmdSeed(ctx, []string{"-c", "Bad Name", "-file", obj, "-dir", dir}, &out); err == nil {
		t.Fatalf("bad collection accepted")
	}
	if err := cmdSeed(ctx, []string{"-file", obj}, &out); err == nil {
		t.Fatalf("missing collection accepted")
	}
	if err := cmdCache(ctx, []string{"-driver", "sqlite"}, &out); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
