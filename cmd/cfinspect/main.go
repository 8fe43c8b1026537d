// Command cfinspect prints the metadata and layout of a cfile and can
// exercise its read path against local or remote sources.
//
//	cfinspect data.cfile
//	cfinspect -seek 1000 https://bucket.example.com/data.cfile
//	cfinspect -cache-dir /tmp/cfcache -prefetch 0:100000 https://bucket.example.com/data.cfile
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meigma/cfile"
	"github.com/meigma/cfile/cache"
	"github.com/meigma/cfile/cache/disk"
	cfilehttp "github.com/meigma/cfile/http"
)

type config struct {
	cacheDir      string
	cacheCompress bool
	cacheBlock    int64
	seek          int64
	prefetch      string
	verbose       bool
}

func parseFlags() (config, string) {
	var cfg config
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "cache blocks on disk under this directory")
	flag.BoolVar(&cfg.cacheCompress, "cache-compress", false, "store cached blocks zstd-compressed")
	flag.Int64Var(&cfg.cacheBlock, "cache-block", cache.DefaultBlockSize, "cache block size in bytes")
	flag.Int64Var(&cfg.seek, "seek", -1, "seek this ordinal in the positional index and print its value")
	flag.StringVar(&cfg.prefetch, "prefetch", "", "warm the ordinal range FROM:TO and report the wall time")
	flag.BoolVar(&cfg.verbose, "v", false, "log reads as they happen")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: cfinspect [flags] <path-or-url>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	return cfg, flag.Arg(0)
}

func main() {
	cfg, target := parseFlags()

	src, err := openSource(cfg, target)
	if err != nil {
		log.Fatal(err)
	}

	var opts []cfile.Option
	if cfg.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
		defer logger.Sync() //nolint:errcheck // best-effort flush on exit
		opts = append(opts, cfile.WithLogger(logger))
	}

	r, err := cfile.Open(src, opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close() //nolint:errcheck // process is exiting

	printMetadata(r)

	ctx := context.Background()
	if cfg.prefetch != "" {
		from, to, err := parseRange(cfg.prefetch)
		if err != nil {
			log.Fatal(err)
		}
		start := time.Now()
		if err := r.PrefetchOrdinals(ctx, from, to); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("prefetched ordinals [%d,%d) in %s\n", from, to, time.Since(start).Round(time.Millisecond))
	}
	if cfg.seek >= 0 {
		it, err := r.NewIterator()
		if err != nil {
			log.Fatal(err)
		}
		if err := it.SeekToOrdinal(ctx, uint32(cfg.seek)); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("ordinal %d = %d\n", it.Ordinal(), it.Value())
	}
}

func openSource(cfg config, target string) (cfile.ByteSource, error) {
	var src cache.ByteSource
	var err error
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		src, err = cfilehttp.NewSource(target)
	} else {
		src, err = cfile.NewFileSource(target)
	}
	if err != nil {
		return nil, err
	}
	if cfg.cacheDir == "" {
		return src, nil
	}

	var diskOpts []disk.Option
	if cfg.cacheCompress {
		diskOpts = append(diskOpts, disk.WithCompression())
	}
	blocks, err := disk.New(cfg.cacheDir, diskOpts...)
	if err != nil {
		return nil, err
	}
	return blocks.Wrap(src, cache.WithBlockSize(cfg.cacheBlock))
}

func printMetadata(r *cfile.Reader) {
	fmt.Println(r.Layout())
	fmt.Printf("header version %d, footer version %d\n", r.Header().Version(), r.Footer().Version())
	for key, value := range r.Header().Props() {
		fmt.Printf("prop %s = %q\n", key, value)
	}
	for id, root := range r.Footer().BTrees() {
		fmt.Printf("btree %s root %s\n", id, root)
	}
}

func parseRange(s string) (uint32, uint32, error) {
	fromStr, toStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q, want FROM:TO", s)
	}
	from, err := strconv.ParseUint(fromStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
	}
	to, err := strconv.ParseUint(toStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
	}
	return uint32(from), uint32(to), nil
}
