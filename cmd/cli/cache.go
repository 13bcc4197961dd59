package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/and161185/dualstore/internal/config"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/repository/local"
)

// cacheFlags binds the local cache settings; defaults match the server's.
func cacheFlags(fs *flag.FlagSet) *config.Cache {
	c := config.Default().Cache
	fs.StringVar(&c.Driver, "driver", c.Driver, "cache medium: file or redis")
	fs.StringVar(&c.Dir, "dir", c.Dir, "file medium directory")
	fs.StringVar(&c.Prefix, "prefix", c.Prefix, "key namespace")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "redis database")
	return &c
}

func openStore(ctx context.Context, c *config.Cache) (*local.Store, func(), error) {
	cfg := config.Default()
	cfg.Cache = *c
	m, err := local.Open(ctx, cfg.MediumOptions())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if cl, ok := m.(io.Closer); ok {
		closeFn = func() { _ = cl.Close() }
	}
	return local.NewStore(m, c.Prefix), closeFn, nil
}

// cmdSeed loads a JSON array of records straight into the local cache, so a fresh
// deployment has demo content while the remote store is empty or unreachable.
func cmdSeed(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	file := fs.String("file", "", "JSON array of records ('-'=stdin)")
	replace := fs.Bool("replace", false, "drop cached records of the collection first")
	cache := cacheFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c", "file"); err != nil {
		return err
	}
	c := model.Collection(*coll)
	if err := c.Validate(); err != nil {
		return err
	}

	b, err := readAll(*file)
	if err != nil {
		return err
	}
	var objs []map[string]any
	if err := json.Unmarshal(b, &objs); err != nil {
		return fmt.Errorf("%s: want a JSON array of objects: %w", *file, err)
	}

	store, closeFn, err := openStore(ctx, cache)
	if err != nil {
		return err
	}
	defer closeFn()

	if *replace {
		if err := store.Clear(c); err != nil {
			return err
		}
	}
	for i, obj := range objs {
		rec, err := model.FromMap(obj)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := store.Add(c, rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	fmt.Fprintf(out, "seeded %d records into %s\n", len(objs), c)
	return nil
}

// cmdCache lists cached collections with their sizes, or dumps one collection.
func cmdCache(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	coll := fs.String("c", "", "collection to dump (all collections summary when empty)")
	cache := cacheFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, closeFn, err := openStore(ctx, cache)
	if err != nil {
		return err
	}
	defer closeFn()

	if *coll != "" {
		recs, err := store.Get(model.Collection(*coll))
		if err != nil {
			return err
		}
		writeJSON(out, recs)
		return nil
	}

	colls, err := store.Collections()
	if err != nil {
		return err
	}
	summary := make(map[string]int, len(colls))
	for _, c := range colls {
		recs, err := store.Get(c)
		if err != nil {
			return err
		}
		summary[string(c)] = len(recs)
	}
	writeJSON(out, summary)
	return nil
}
