// Command ds is the admin CLI of the dual-backend content store.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	insecurecreds "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/dualstore/internal/config"
	"github.com/and161185/dualstore/internal/contentclient"
	"github.com/and161185/dualstore/internal/convert"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/service"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "dualstore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dualstore")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, sub string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, Subject: sub, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `ds token` first)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type globals struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(ctx context.Context, g globals, bearer string) (*grpc.ClientConn, *contentclient.Client, error) {
	creds := insecurecreds.NewCredentials()
	if !g.plaintext {
		var err error
		if creds, err = loadTLS(g.caPath, g.insecure); err != nil {
			return nil, nil, err
		}
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, g.addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, err
	}
	return cc, contentclient.New(cc, bearer), nil
}

// dialAdmin dials with the saved admin token.
func dialAdmin(ctx context.Context, g globals) (*grpc.ClientConn, *contentclient.Client, error) {
	token, err := loadToken()
	if err != nil {
		return nil, nil, err
	}
	return dial(ctx, g, token)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// parseFilter reads a JSON object of equality constraints; empty means no filter.
func parseFilter(s string) (model.Filter, error) {
	if s == "" {
		return nil, nil
	}
	var f map[string]any
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return model.Filter(f), nil
}

func readObject(p string) (map[string]any, error) {
	b, err := readAll(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%s: want a JSON object: %w", p, err)
	}
	return m, nil
}

func need(fs *flag.FlagSet, names ...string) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, n := range names {
		if !set[n] {
			return fmt.Errorf("%s: need -%s", fs.Name(), n)
		}
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `ds CLI
Usage:
  ds -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token      -key <jwt key> [-sub admin] [-ttl 24h]     (mints and saves an admin token)
  list       -c <collection> [-filter JSON] [-sort -field,field] [-limit n]
  get        -c <collection> -id <id>
  add        -c <collection> -file <json object>      ('-' = stdin)
  edit       -c <collection> -id <id> -file <json fields>
  rm         -c <collection> -id <id>
  watch      -c <collection> [-filter JSON]
  add-post | add-event | add-product                 (typed shortcuts, see -h)
  seed       -c <collection> -file <json array> [-replace] [cache flags]
  cache      [-c <collection>] [cache flags]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands.
func main() {
	var g globals
	flag.StringVar(&g.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&g.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&g.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&g.plaintext, "plaintext", false, "connect without TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "version":
		fmt.Printf("ds %s (%s)\n", version, buildDate)
	case "token":
		err = cmdToken(args, os.Stdout)
	case "list":
		err = cmdList(ctx, g, args)
	case "get":
		err = cmdGet(ctx, g, args)
	case "add":
		err = cmdAdd(ctx, g, args)
	case "edit":
		err = cmdEdit(ctx, g, args)
	case "rm":
		err = cmdRm(ctx, g, args)
	case "watch":
		err = cmdWatch(ctx, g, args, os.Stdout)
	case "add-post":
		err = cmdAddPost(ctx, g, args)
	case "add-event":
		err = cmdAddEvent(ctx, g, args)
	case "add-product":
		err = cmdAddProduct(ctx, g, args)
	case "seed":
		err = cmdSeed(ctx, args, os.Stdout)
	case "cache":
		err = cmdCache(ctx, args, os.Stdout)
	default:
		usage()
	}
	if err != nil {
		fail(err)
	}
}

// ---- commands ----

// cmdToken mints an admin token with the server's signing key and saves it.
func cmdToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	key := fs.String("key", os.Getenv(config.EnvName("jwt-key")), "HS256 signing key (default $DUALSTORE_JWT_KEY)")
	sub := fs.String("sub", "admin", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token TTL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("token: need -key or DUALSTORE_JWT_KEY")
	}
	tok, exp, err := service.NewAuthService([]byte(*key), *ttl, nil).Issue(*sub)
	if err != nil {
		return err
	}
	if err := saveToken(tok, *sub, exp); err != nil {
		return err
	}
	fmt.Fprintf(out, "token for %q saved, expires %s\n", *sub, exp.UTC().Format(time.RFC3339))
	return nil
}

func cmdList(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	filter := fs.String("filter", "", `equality filter as JSON, e.g. {"status":"published"}`)
	sortSpec := fs.String("sort", "", "sort keys, '-' prefix for descending")
	limit := fs.Int("limit", 0, "max records (0 = server max)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c"); err != nil {
		return err
	}
	f, err := parseFilter(*filter)
	if err != nil {
		return err
	}
	spec, err := convert.ParseSort(*sortSpec)
	if err != nil {
		return err
	}

	cc, cli, err := dial(ctx, g, "")
	if err != nil {
		return err
	}
	defer cc.Close()

	recs, err := cli.List(ctx, model.Collection(*coll), model.Query{Filter: f, Sort: spec, Limit: *limit})
	if err != nil {
		return err
	}
	printJSON(recs)
	return nil
}

func cmdGet(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	id := fs.String("id", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c", "id"); err != nil {
		return err
	}

	cc, cli, err := dial(ctx, g, "")
	if err != nil {
		return err
	}
	defer cc.Close()

	rec, err := cli.Get(ctx, model.Collection(*coll), *id)
	if err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

func cmdAdd(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	file := fs.String("file", "", "record JSON object ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c", "file"); err != nil {
		return err
	}
	obj, err := readObject(*file)
	if err != nil {
		return err
	}
	rec, err := model.FromMap(obj)
	if err != nil {
		return err
	}
	return create(ctx, g, model.Collection(*coll), rec)
}

func create(ctx context.Context, g globals, c model.Collection, rec model.Record) error {
	cc, cli, err := dialAdmin(ctx, g)
	if err != nil {
		return err
	}
	defer cc.Close()

	out, err := cli.Create(ctx, c, rec)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func cmdEdit(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	id := fs.String("id", "", "record id")
	file := fs.String("file", "", "fields JSON object ('-'=stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c", "id", "file"); err != nil {
		return err
	}
	fields, err := readObject(*file)
	if err != nil {
		return err
	}

	cc, cli, err := dialAdmin(ctx, g)
	if err != nil {
		return err
	}
	defer cc.Close()

	out, err := cli.Update(ctx, model.Collection(*coll), *id, fields)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func cmdRm(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	id := fs.String("id", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c", "id"); err != nil {
		return err
	}

	cc, cli, err := dialAdmin(ctx, g)
	if err != nil {
		return err
	}
	defer cc.Close()

	ok, err := cli.Delete(ctx, model.Collection(*coll), *id)
	if err != nil {
		return err
	}
	printJSON(map[string]any{convert.KeyDeleted: ok})
	return nil
}

// cmdWatch prints one JSON line per remote change until interrupted.
func cmdWatch(ctx context.Context, g globals, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	coll := fs.String("c", "", "collection")
	filter := fs.String("filter", "", "equality filter as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "c"); err != nil {
		return err
	}
	f, err := parseFilter(*filter)
	if err != nil {
		return err
	}

	cc, cli, err := dial(ctx, g, "")
	if err != nil {
		return err
	}
	defer cc.Close()

	w, err := cli.Watch(ctx, model.Collection(*coll), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %s, ctrl-c to stop\n", *coll)
	enc := json.NewEncoder(out)
	for {
		ev, err := w.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_ = enc.Encode(map[string]any{
			convert.KeyType:       ev.Type,
			convert.KeyCollection: ev.Collection,
			convert.KeyRecord:     ev.Record,
		})
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
