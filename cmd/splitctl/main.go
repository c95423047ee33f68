// Command splitctl manages indexes and splits in the metastore: it creates indexes,
// builds splits from NDJSON, publishes them and inspects what is there.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/config"
	dbRedis "github.com/kailas-cloud/splitsearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/repository/metastore"
	"github.com/kailas-cloud/splitsearch/internal/storage"
	"github.com/kailas-cloud/splitsearch/internal/version"
)

const usage = `usage: splitctl [-config path] [-v] <command> [flags]

commands:
  create-index  -index ID -uri URI -mapping FILE
  delete-index  -index ID
  build         -index ID [-input FILE] [-max-docs-per-segment N] [-publish] [-dry-run]
  publish       -index ID SPLIT_ID...
  mark          -index ID SPLIT_ID...
  gc            -index ID
  inspect       [-index ID] [-split ID]
  version
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "splitctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	global := flag.NewFlagSet("splitctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "config file (default: config/<ENV>.yaml)")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil || global.NArg() == 0 {
		return errUsage
	}
	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "version" {
		_, err := fmt.Fprintf(stdout, "splitctl %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return err
	}

	logger, err := logpkg.NewCLILogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	meta, closeMeta, err := openMetastore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMeta()

	a := &app{
		meta:     meta,
		resolver: storage.NewResolver(cfg.Storage.Root),
		out:      stdout,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	return a.dispatch(ctx, cmd, rest, stdin)
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	indexID := fs.String("index", "", "index id")

	switch cmd {
	case "create-index":
		uri := fs.String("uri", "", "index URI, e.g. file://logs or ram://logs")
		mapping := fs.String("mapping", "", "doc mapping YAML file")
		if err := parse(fs, args, indexID, uri, mapping); err != nil {
			return err
		}
		return a.createIndex(ctx, *indexID, *uri, *mapping)

	case "delete-index":
		if err := parse(fs, args, indexID); err != nil {
			return err
		}
		return a.deleteIndex(ctx, *indexID)

	case "build":
		input := fs.String("input", "-", "NDJSON file, - for stdin")
		maxDocs := fs.Int("max-docs-per-segment", 0, "documents per segment (0: default)")
		publish := fs.Bool("publish", false, "publish the split once staged")
		dryRun := fs.Bool("dry-run", false, "print the split metadata without uploading")
		if err := parse(fs, args, indexID); err != nil {
			return err
		}
		in := stdin
		if *input != "-" {
			f, err := os.Open(*input)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			in = f
		}
		_, err := a.build(ctx, *indexID, in, buildOptions{
			maxDocsPerSegment: *maxDocs,
			publish:           *publish,
			dryRun:            *dryRun,
		})
		return err

	case "publish", "mark":
		if err := parse(fs, args, indexID); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return errUsage
		}
		if cmd == "publish" {
			return a.publish(ctx, *indexID, fs.Args())
		}
		return a.mark(ctx, *indexID, fs.Args())

	case "gc":
		if err := parse(fs, args, indexID); err != nil {
			return err
		}
		return a.gc(ctx, *indexID)

	case "inspect":
		splitID := fs.String("split", "", "split id")
		if err := parse(fs, args); err != nil {
			return err
		}
		return a.inspect(ctx, *indexID, *splitID)

	default:
		return errUsage
	}
}

// parse parses args and requires every flag in required to be non-empty.
func parse(fs *flag.FlagSet, args []string, required ...*string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	for _, v := range required {
		if strings.TrimSpace(*v) == "" {
			return errUsage
		}
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(config.GetEnv())
}

func openMetastore(ctx context.Context, cfg config.Config, logger *zap.Logger) (metastore.Metastore, func(), error) {
	if cfg.Metastore.Driver != config.MetastoreRedis {
		logger.Debug("Using file metastore", zap.String("path", cfg.Metastore.Path))
		return metastore.NewFile(cfg.Metastore.Path), func() {}, nil
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Metastore.Addrs,
		Password:   cfg.Metastore.Password,
		ClientName: "splitctl",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create redis store: %w", err)
	}
	timeout := time.Duration(cfg.Metastore.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("redis not ready: %w", err)
	}
	logger.Debug("Connected to redis metastore", zap.Strings("addrs", cfg.Metastore.Addrs))
	return metastore.NewRedis(store), store.Close, nil
}
