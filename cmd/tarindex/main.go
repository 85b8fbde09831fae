// Command tarindex walks a tar (optionally .tar.xz) archive through the
// streaming decoder in package tar and records a manifest of its entries:
// path, size, content digest, and whether the content has been seen before
// in the same run. It never writes archive content to disk; the manifest is
// the only persisted artifact.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
	"github.com/therootcompany/xz"

	"github.com/prekucki/tarstream/internal/pathintern"
	"github.com/prekucki/tarstream/tar"
)

const xzMagic = "\xfd7zXZ\x00"

type includeExcludeFlags struct {
	include []string
	exclude []string
}

func (f *includeExcludeFlags) register(fs *flag.FlagSet) {
	fs.Func("include", "doublestar glob an entry's path must match to be indexed (repeatable, default: all)", func(s string) error {
		f.include = append(f.include, s)
		return nil
	})
	fs.Func("exclude", "doublestar glob an entry's path must not match to be indexed (repeatable)", func(s string) error {
		f.exclude = append(f.exclude, s)
		return nil
	})
}

func (f *includeExcludeFlags) matches(path string) (bool, error) {
	if len(f.include) > 0 {
		any := false
		for _, pat := range f.include {
			ok, err := doublestar.Match(pat, path)
			if err != nil {
				return false, fmt.Errorf("include pattern %q: %w", pat, err)
			}
			if ok {
				any = true
				break
			}
		}
		if !any {
			return false, nil
		}
	}
	for _, pat := range f.exclude {
		ok, err := doublestar.Match(pat, path)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

// manifestRecord is what gets persisted per indexed entry.
type manifestRecord struct {
	Path       string `json:"path"`
	EntryType  byte   `json:"entry_type"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModTime    string `json:"mtime"`
	Duplicate  bool   `json:"duplicate"`
	LinkTarget string `json:"link_target,omitempty"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("tarindex failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tarindex", flag.ContinueOnError)
	input := fs.String("input", "-", "path to a tar or tar.xz archive, or - for stdin")
	dbPath := fs.String("db", "", "pebble directory to persist the manifest in (empty: log only, no persistence)")
	jsonLogs := fs.Bool("json-logs", false, "force JSON log output regardless of whether stderr is a terminal")
	var filters includeExcludeFlags
	filters.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*jsonLogs)
	slog.SetDefault(logger)

	r, cleanup, err := openInput(*input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer cleanup()

	var db *pebble.DB
	if *dbPath != "" {
		db, err = pebble.Open(*dbPath, &pebble.Options{})
		if err != nil {
			return fmt.Errorf("opening manifest db: %w", err)
		}
		defer db.Close()
	}

	stats, err := index(context.Background(), r, &filters, db)
	if err != nil {
		return err
	}

	slog.Info("indexing complete",
		"entries", stats.entries,
		"included", stats.included,
		"duplicateContent", stats.duplicateContent,
		"totalBytes", stats.totalBytes)
	return nil
}

func newLogger(forceJSON bool) *slog.Logger {
	if forceJSON || !isTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// openInput opens the archive named by name ("-" for stdin), transparently
// decompressing it through xz when its magic bytes say it is xz-compressed.
func openInput(name string) (io.Reader, func(), error) {
	var f io.ReadCloser
	if name == "-" {
		f = io.NopCloser(os.Stdin)
	} else {
		var err error
		f, err = os.Open(name)
		if err != nil {
			return nil, nil, err
		}
	}

	br := bufio.NewReaderSize(f, 64*1024)
	magic, err := br.Peek(len(xzMagic))
	if err == nil && string(magic) == xzMagic {
		xr, err := xz.NewReader(br, xz.DefaultDictMax)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xr, func() { f.Close() }, nil
	}
	return br, func() { f.Close() }, nil
}

type runStats struct {
	entries          int
	included         int
	duplicateContent int
	totalBytes       int64
}

// index walks every entry in src, drains and hashes the payload of each
// entry that passes filters (dropping the others unread) and, if db is
// non-nil, persists one manifestRecord per included entry.
func index(ctx context.Context, src io.Reader, filters *includeExcludeFlags, db *pebble.DB) (runStats, error) {
	var stats runStats

	chunks := tar.FromReader(src, 64*1024)
	framer := tar.NewRawFramer(chunks)
	coalescer := tar.NewMetadataCoalescer(framer)
	stream := tar.NewNestedEntryStream(coalescer)

	// Digests seen this run, so repeated file content (common in container
	// image layers and package archives) is flagged as a duplicate. The cache
	// is bounded, so a digest evicted from it is not recognized again.
	seen := tinylfu.New[uint64, struct{}](4096, 40960, func(k uint64) uint64 { return k })

	for {
		handle, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading entry: %w", err)
		}
		stats.entries++

		p := pathintern.New(string(handle.Header.Path))
		ok, err := filters.matches(p.String())
		if err != nil {
			return stats, err
		}
		if !ok {
			handle.Drop()
			continue
		}

		digest, n, err := drainAndHash(ctx, handle)
		if err != nil {
			return stats, fmt.Errorf("entry %q: %w", p.String(), err)
		}
		stats.included++
		stats.totalBytes += n

		_, dup := seen.Get(digest)
		if !dup {
			seen.Add(digest, struct{}{})
		} else {
			stats.duplicateContent++
		}

		rec := manifestRecord{
			Path:      p.String(),
			EntryType: handle.Header.EntryType,
			Size:      n,
			Digest:    fmt.Sprintf("%016x", digest),
			ModTime:   handle.Header.ModTime.Time().UTC().Format(time.RFC3339),
			Duplicate: dup,
		}
		if len(handle.Header.LinkPath) > 0 {
			rec.LinkTarget = string(handle.Header.LinkPath)
		}

		if db != nil {
			buf, err := json.Marshal(rec)
			if err != nil {
				return stats, fmt.Errorf("encoding manifest record: %w", err)
			}
			if err := db.Set([]byte(rec.Path), buf, pebble.NoSync); err != nil {
				return stats, fmt.Errorf("writing manifest record: %w", err)
			}
		}

		slog.Info("indexed entry", "path", rec.Path, "size", rec.Size, "digest", rec.Digest, "duplicate", rec.Duplicate)
	}

	return stats, nil
}

func drainAndHash(ctx context.Context, h *tar.EntryHandle) (digest uint64, size int64, err error) {
	hasher := xxhash.New()
	for {
		b, err := h.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, size, err
		}
		hasher.Write(b)
		size += int64(len(b))
	}
	return hasher.Sum64(), size, nil
}
