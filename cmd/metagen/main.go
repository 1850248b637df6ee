// metagen generates stock-photo metadata for local files and writes
// platform CSV files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/kiranshivaraju/stockmeta/internal/ai"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/internal/credential"
	"github.com/kiranshivaraju/stockmeta/internal/export"
	"github.com/kiranshivaraju/stockmeta/internal/media"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

type options struct {
	provider     string
	model        string
	outDir       string
	platforms    []export.Platform
	delay        time.Duration
	retries      int
	embed        bool
	maxEdge      int
	settings     models.GenerationSettings
	roots        []string
	embedderFunc func() (embedder, error)
	sleep        func(ctx context.Context, d time.Duration) error
}

type embedder interface {
	Embed(path string, r models.ResultRecord) error
	Close() error
}

func parseFlags(fs *flag.FlagSet, args []string, cfg *config.Config) (options, error) {
	s := models.DefaultSettings()
	provider := fs.String("provider", cfg.AI.Provider, "AI provider: gemini, openai or mistral")
	model := fs.String("model", "", "model id (default: the provider's default model)")
	outDir := fs.String("out", "", "directory for the CSV files")
	platforms := fs.String("platforms", "", "comma-separated export platforms (default: all)")
	delay := fs.Duration("delay", cfg.Batch.RequestDelay, "delay between files")
	retries := fs.Int("retries", 1, "rounds of retrying failed files")
	embed := fs.Bool("embed", false, "write metadata into the files with exiftool")
	filenameOnly := fs.Bool("filename-only", false, "generate from filenames without uploading the files")
	filenameAsTitle := fs.Bool("filename-as-title", false, "use the filename as a hint for the title")
	maxEdge := fs.Int("max-edge", cfg.Media.MaxEdge, "downscale images so the longest edge is at most this many pixels (0 disables)")
	fs.IntVar(&s.TitleLength, "title-length", s.TitleLength, "maximum title length in characters")
	fs.IntVar(&s.DescriptionLength, "description-length", s.DescriptionLength, "maximum description length in characters")
	fs.IntVar(&s.KeywordsCount, "keywords", s.KeywordsCount, "number of keywords")
	keywordFormat := fs.String("keyword-format", string(s.KeywordFormat), "keyword shape: single, double or mixed")
	fs.StringVar(&s.IncludeKeywords, "include", "", "keywords that must be included")
	fs.StringVar(&s.ExcludeKeywords, "exclude", "", "keywords that must be avoided")
	fs.StringVar(&s.TitlePrefix, "title-prefix", "", "text prepended to every title")
	fs.StringVar(&s.TitleSuffix, "title-suffix", "", "text appended to every title")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	s.FilenameOnlyMode = *filenameOnly
	s.FilenameAsTitle = *filenameAsTitle
	s.KeywordFormat = models.KeywordFormat(*keywordFormat)
	if err := s.Validate(); err != nil {
		return options{}, err
	}
	if *outDir == "" {
		return options{}, errors.New("-out is required")
	}
	if fs.NArg() == 0 {
		return options{}, errors.New("no input directories given")
	}
	if err := config.ValidateRequestDelay(*delay); err != nil {
		return options{}, fmt.Errorf("-delay %w", err)
	}
	if *retries < 0 {
		return options{}, errors.New("-retries must not be negative")
	}

	selected := make([]export.Platform, 0, 6)
	if *platforms == "" {
		for _, p := range export.Platforms() {
			selected = append(selected, p.ID)
		}
	} else {
		for _, raw := range strings.Split(*platforms, ",") {
			p, err := export.ParsePlatform(raw)
			if err != nil {
				return options{}, err
			}
			selected = append(selected, p)
		}
	}

	return options{
		provider:  *provider,
		model:     *model,
		outDir:    *outDir,
		platforms: selected,
		delay:     *delay,
		retries:   *retries,
		embed:     *embed,
		maxEdge:   *maxEdge,
		settings:  s,
		roots:     fs.Args(),
		embedderFunc: func() (embedder, error) {
			return media.NewEmbedder()
		},
	}, nil
}

func main() {
	klog.InitFlags(nil)
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		klog.Fatalf("config: %v", err)
	}
	opts, err := parseFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		klog.Fatalf("%v. Usage: %s -out <csv_dir> [flags] <input_dir> [input_dir ...]", err, os.Args[0])
	}

	kind, err := models.ParseProviderKind(opts.provider)
	if err != nil {
		klog.Fatalf("%v", err)
	}
	keys := cfg.AI.APIKeys(string(kind))
	if len(keys) == 0 {
		klog.Fatalf("no API keys: set %s_API_KEYS", strings.ToUpper(string(kind)))
	}

	registry, err := ai.NewRegistry(cfg.AI)
	if err != nil {
		klog.Fatalf("providers: %v", err)
	}
	provider, err := registry.Get(kind)
	if err != nil {
		klog.Fatalf("%v", err)
	}
	if opts.model, err = registry.ResolveModel(kind, opts.model); err != nil {
		klog.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := generate(ctx, opts, provider, keys)
	if err != nil {
		klog.Fatalf("%v", err)
	}
	klog.Infof("metagen completed: %d completed, %d failed of %d files", res.snapshot.Stats.Completed, res.snapshot.Stats.Failed, res.snapshot.Stats.Total)
	for _, p := range res.files {
		fmt.Println(p)
	}
	if res.snapshot.QuotaExhausted {
		klog.Warningf("%s", res.snapshot.Message)
	}
	klog.Flush()
}

type result struct {
	snapshot batch.Snapshot
	files    []string
}

// generate scans the roots, runs the batch with retry rounds, writes the CSV
// files and optionally embeds metadata into the originals.
func generate(ctx context.Context, opts options, provider models.MetadataProvider, keys []string) (result, error) {
	klog.Infof("Input directories: %v", opts.roots)
	paths, err := media.Scan(opts.roots...)
	if err != nil {
		return result{}, fmt.Errorf("scan: %w", err)
	}
	klog.Infof("Found %d supported files", len(paths))

	jobs := make([]models.Job, len(paths))
	for i, p := range paths {
		jobs[i] = models.Job{Index: i, Source: media.FileSource{Path: p, MaxEdge: opts.maxEdge}}
	}

	pool := credential.NewPool(nil)
	pool.Seed(ctx, provider.Kind(), keys)

	lastDone := -1
	orch := batch.NewOrchestrator(pool, provider, batch.Options{
		Model:        opts.model,
		Settings:     opts.settings,
		RequestDelay: opts.delay,
		Sleep:        opts.sleep,
		Observer: func(s batch.Snapshot) {
			done := s.Stats.Completed + s.Stats.Failed
			if done != lastDone {
				lastDone = done
				klog.V(1).Infof("progress %d%% (%d/%d)", s.Progress, done, s.Stats.Total)
			}
		},
	})

	if err := orch.Run(ctx, jobs); err != nil {
		return result{}, fmt.Errorf("run: %w", err)
	}
	for round := 1; round <= opts.retries && orch.FailedCount() > 0 && ctx.Err() == nil; round++ {
		klog.Infof("Retrying %d failed files (round %d/%d)", orch.FailedCount(), round, opts.retries)
		if err := orch.RetryFailed(ctx); err != nil {
			return result{}, fmt.Errorf("retry: %w", err)
		}
	}

	snap := orch.Snapshot()
	for _, r := range snap.Records {
		if r.Status == models.JobStatusError {
			klog.Errorf("%s: %s", r.Filename, r.ErrorMessage)
		}
	}

	files, err := export.WriteFiles(ctx, opts.outDir, opts.platforms, models.CompletedOnly(snap.Records), opts.settings, time.Now())
	if err != nil {
		return result{}, fmt.Errorf("export: %w", err)
	}

	if opts.embed {
		if err := embedAll(opts, paths, snap.Records); err != nil {
			return result{}, err
		}
	}
	return result{snapshot: snap, files: files}, nil
}

func embedAll(opts options, paths []string, records []models.ResultRecord) error {
	e, err := opts.embedderFunc()
	if err != nil {
		return fmt.Errorf("exiftool: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	for i, r := range records {
		if r.Status != models.JobStatusCompleted {
			continue
		}
		klog.V(1).Infof("embedding metadata into %s", paths[i])
		if err := e.Embed(paths[i], r); err != nil {
			klog.Errorf("Failed to write metadata for %s: %v", paths[i], err)
		}
	}
	return nil
}
