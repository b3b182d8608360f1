// Command esecat opens an ESE database file and prints its catalog:
// tables, their columns, and their indexes. It can also export the
// catalog as a BSON document for tooling that wants a machine-readable
// snapshot. Flag-based configuration and logger bootstrap follow
// src/main.go and server.InitServer; there is no global settings
// singleton here, just a local, flag-populated config struct.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"esedb"
	"esedb/catalog"
)

type config struct {
	path            string
	debug           bool
	mmap            bool
	cacheSize       int
	exportBSON      string
	keepGoing       bool
	verifyChecksums bool
}

func parseFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("esecat", flag.ContinueOnError)
	cfg := &config{}
	fs.BoolVar(&cfg.debug, "debug", false, "enable verbose development logging")
	fs.BoolVar(&cfg.mmap, "mmap", false, "use a memory-mapped reader instead of file I/O")
	fs.IntVar(&cfg.cacheSize, "cache-size", 64, "shared page cache capacity")
	fs.StringVar(&cfg.exportBSON, "export-bson", "", "write the catalog as a BSON document to this path")
	fs.BoolVar(&cfg.keepGoing, "keep-going", false, "continue past per-table errors instead of aborting the run")
	fs.BoolVar(&cfg.verifyChecksums, "verify-checksums", false, "validate each page's on-disk checksum as it is loaded")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("usage: esecat [flags] <database-file>")
	}
	cfg.path = fs.Arg(0)
	return cfg, nil
}

func buildLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("esecat: initializing logger: %w", err)
	}
	return logger.Sugar(), nil
}

func run(cfg *config, logger *zap.SugaredLogger) error {
	f, err := esedb.Open(cfg.path,
		esedb.WithLogger(logger),
		esedb.WithCacheSize(cfg.cacheSize),
		esedb.WithMmap(cfg.mmap),
		esedb.WithChecksumValidation(cfg.verifyChecksums),
	)
	if err != nil {
		return fmt.Errorf("esecat: opening %s: %w", cfg.path, err)
	}
	defer f.Close()

	ctx := context.Background()
	tables, err := f.Tables(ctx)
	if err != nil {
		return fmt.Errorf("esecat: reading catalog of %s: %w", cfg.path, err)
	}

	var combinedErr error
	for _, table := range tables {
		rows, err := f.RowCount(ctx, table)
		if err != nil {
			if !cfg.keepGoing {
				return fmt.Errorf("esecat: %w", err)
			}
			combinedErr = multierr.Append(combinedErr, err)
			continue
		}
		printTable(table, rows)
	}

	if cfg.exportBSON != "" {
		data, err := catalog.ExportBSON(tables)
		if err != nil {
			return fmt.Errorf("esecat: encoding catalog: %w", err)
		}
		if err := os.WriteFile(cfg.exportBSON, data, 0644); err != nil {
			return fmt.Errorf("esecat: writing %s: %w", cfg.exportBSON, err)
		}
		logger.Infow("exported catalog", "path", cfg.exportBSON, "tables", len(tables))
	}

	return combinedErr
}

func printTable(table catalog.Table, rows int) {
	fmt.Printf("%s (object %d, FDP page %d, %d rows)\n", table.Name, table.ObjectID, table.FDPPageNumber, rows)
	for _, col := range table.Columns {
		fmt.Printf("  column %-24s type=%-5d flags=%#x space=%d\n", col.Name, col.Type, col.Flags, col.SpaceUsage)
	}
	for _, idx := range table.Indexes {
		fmt.Printf("  index  %-24s FDP page %d\n", idx.Name, idx.FDPPageNumber)
	}
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := buildLogger(cfg.debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("esecat failed", "error", err)
		os.Exit(1)
	}
}
