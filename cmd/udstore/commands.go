package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/udstore"
	"github.com/unkn0wn-root/udstore/snapshot/s3"
)

type command struct {
	run     func(ctx context.Context, a *app, args []string) error
	metrics bool
}

var commands = map[string]command{
	"get":     {run: cmdGet},
	"set":     {run: cmdSet},
	"delete":  {run: cmdDelete},
	"query":   {run: cmdQuery},
	"stats":   {run: cmdStats},
	"sweep":   {run: cmdSweep},
	"migrate": {run: cmdMigrate},
	"backup":  {run: cmdBackup},
	"restore": {run: cmdRestore},
	"serve":   {run: cmdServe, metrics: true},
}

func subflags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func need(fs *flag.FlagSet, n int, what string) error {
	if fs.NArg() != n {
		return fmt.Errorf("%w: %s %s", errUsage, fs.Name(), what)
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	if !a.json {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

type recordView struct {
	Key     string           `json:"key"`
	Backend string           `json:"backend"`
	Value   any              `json:"value"`
	Meta    udstore.Metadata `json:"meta"`
}

func view(e udstore.Entry) recordView {
	return recordView{Key: e.Key, Backend: e.Backend, Value: e.Value, Meta: e.Meta}
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := subflags("get")
	backend := fs.String("backend", "", "Read from this backend instead of the namespace default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, 2, "<ns> <key>"); err != nil {
		return err
	}
	ns, key := fs.Arg(0), fs.Arg(1)
	got, err := a.store.GetMultiple(ctx, ns, []string{key}, udstore.FromBackend(*backend))
	if err != nil {
		return err
	}
	e, ok := got[key]
	if !ok {
		return fmt.Errorf("%s/%s: not found", ns, key)
	}
	return a.print(view(e))
}

func cmdSet(ctx context.Context, a *app, args []string) error {
	fs := subflags("set")
	backend := fs.String("backend", "", "Write to this backend instead of the namespace default")
	ttl := fs.Duration("ttl", -1, "Record lifetime; 0 never expires, unset uses the namespace default")
	encrypt := fs.Bool("encrypt", false, "Encrypt even if the namespace does not by default")
	version := fs.Int("version", 0, "Schema version of the value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, 3, "<ns> <key> <json>"); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(fs.Arg(2)), &v); err != nil {
		return fmt.Errorf("value is not JSON: %w", err)
	}
	var opts []udstore.SetOption
	if *backend != "" {
		opts = append(opts, udstore.WithBackend(*backend))
	}
	if *ttl >= 0 {
		opts = append(opts, udstore.WithTTL(*ttl))
	}
	if *encrypt {
		opts = append(opts, udstore.WithEncrypt(true))
	}
	if *version > 0 {
		opts = append(opts, udstore.WithVersion(*version))
	}
	return a.store.Set(ctx, fs.Arg(0), fs.Arg(1), v, opts...)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := subflags("delete")
	backend := fs.String("backend", "", "Delete from this backend instead of the namespace default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, 2, "<ns> <key>"); err != nil {
		return err
	}
	return a.store.Delete(ctx, fs.Arg(0), fs.Arg(1), udstore.FromBackend(*backend))
}

func cmdQuery(ctx context.Context, a *app, args []string) error {
	fs := subflags("query")
	q := udstore.Query{}
	fs.StringVar(&q.SortBy, "sort", "", "Dotted path to sort by, e.g. company.name")
	desc := fs.Bool("desc", false, "Sort descending")
	fs.IntVar(&q.Offset, "offset", 0, "Skip this many records")
	fs.IntVar(&q.Limit, "limit", 0, "Return at most this many records")
	fs.StringVar(&q.Backend, "backend", "", "Query this backend instead of the namespace default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, 1, "<ns>"); err != nil {
		return err
	}
	if *desc {
		q.SortOrder = udstore.Desc
	}
	es, err := a.store.Query(ctx, fs.Arg(0), q)
	if err != nil {
		return err
	}
	out := make([]recordView, len(es))
	for i, e := range es {
		out[i] = view(e)
	}
	return a.print(out)
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	st, err := a.store.Stats(ctx, args...)
	if err != nil {
		return err
	}
	if a.json {
		return a.print(st)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tRECORDS\tBYTES\tEXPIRED\tENCRYPTED\tCOMPRESSED\tLEGACY\tUNREADABLE")
	row := func(scope string, u udstore.Usage) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			scope, u.Records, u.Bytes, u.Expired, u.Encrypted, u.Compressed, u.Legacy, u.Unreadable)
	}
	for _, name := range sortedKeys(st.Backends) {
		row("backend/"+name, st.Backends[name])
	}
	for _, name := range sortedKeys(st.Namespaces) {
		row("ns/"+name, st.Namespaces[name])
	}
	row("total", st.Total)
	if !st.EncryptionEnabled {
		fmt.Fprintln(tw, "encryption unavailable: sensitive namespaces reject writes")
	}
	return tw.Flush()
}

func sortedKeys(m map[string]udstore.Usage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmdSweep(ctx context.Context, a *app, _ []string) error {
	n, err := a.store.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d expired records\n", n)
	return nil
}

func cmdMigrate(ctx context.Context, a *app, args []string) error {
	fs := subflags("migrate")
	from := fs.String("from", "", "Source backend")
	to := fs.String("to", "", "Destination backend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return fmt.Errorf("%w: migrate needs -from and -to", errUsage)
	}
	rep, err := a.store.Migrate(ctx, *from, *to, fs.Args()...)
	fmt.Fprintf(a.out, "moved %d, expired %d, skipped %d, failed %d\n", rep.Moved, rep.Expired, rep.Skipped, rep.Failed)
	return err
}

func (a *app) bucket() (*s3.Sink, error) {
	if a.cfg.Backup.S3 == nil {
		return nil, errors.New("no backup.s3 section in config")
	}
	return s3.New(*a.cfg.Backup.S3)
}

func cmdBackup(ctx context.Context, a *app, args []string) error {
	fs := subflags("backup")
	out := fs.String("o", "", "Write the backup to this file (default stdout)")
	toS3 := fs.Bool("s3", false, "Upload to the configured bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := a.store.Backup(ctx, fs.Args()...)
	if err != nil {
		return err
	}
	switch {
	case *toS3:
		b, err := a.bucket()
		if err != nil {
			return err
		}
		name, err := b.Upload(ctx, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "uploaded %s\n", name)
		return nil
	case *out != "":
		return os.WriteFile(*out, data, 0o600)
	}
	_, err = a.out.Write(append(data, '\n'))
	return err
}

func cmdRestore(ctx context.Context, a *app, args []string) error {
	fs := subflags("restore")
	fromS3 := fs.String("s3", "", "Restore this backup id from the configured bucket; \"latest\" picks the newest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if *fromS3 != "" {
		b, err := a.bucket()
		if err != nil {
			return err
		}
		id := *fromS3
		if id == "latest" {
			names, err := b.List(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return errors.New("bucket holds no backups")
			}
			id = names[len(names)-1]
		}
		if data, err = b.Download(ctx, id); err != nil {
			return err
		}
	} else {
		if err := need(fs, 1, "<file> or -s3 <id>"); err != nil {
			return err
		}
		if data, err = os.ReadFile(fs.Arg(0)); err != nil {
			return err
		}
	}
	rep, err := a.store.Restore(ctx, data)
	fmt.Fprintf(a.out, "restored %d, failed %d\n", rep.Restored, rep.Failed)
	for _, ns := range rep.SkippedNamespaces {
		fmt.Fprintf(a.out, "skipped unknown namespace %s\n", ns)
	}
	return err
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := subflags("serve")
	addr := fs.String("metrics", ":9464", "Listen address for /metrics")
	every := fs.Duration("stats-every", time.Minute, "How often storage gauges are refreshed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", *addr))

	observe := func() {
		st, err := a.store.Stats(ctx)
		if err != nil {
			a.log.Warn("stats failed", zap.Error(err))
			return
		}
		a.metrics.Observe(st)
	}
	observe()
	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			observe()
		case err := <-errc:
			return err
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		}
	}
}
