// corpus-builder turns directories of scientific PDFs into a multi-task
// vision-language training corpus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/paperlens/corpus-builder/internal/cache"
	"github.com/paperlens/corpus-builder/internal/catalog"
	"github.com/paperlens/corpus-builder/internal/config"
	"github.com/paperlens/corpus-builder/internal/dataset"
	"github.com/paperlens/corpus-builder/internal/detect"
	"github.com/paperlens/corpus-builder/internal/domain"
	"github.com/paperlens/corpus-builder/internal/embedding"
	"github.com/paperlens/corpus-builder/internal/llm"
	"github.com/paperlens/corpus-builder/internal/observability"
	"github.com/paperlens/corpus-builder/internal/pdf"
	"github.com/paperlens/corpus-builder/internal/pipeline"
	"github.com/paperlens/corpus-builder/internal/quality"
)

const version = "0.3.0"

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "corpus-builder",
		Short:   "Build vision-language training corpora from scientific PDFs",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(buildCmd(), detectCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	return ctx, cancel
}

func buildCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "build [pdf-or-directory...]",
		Short: "Run the full pipeline and write the training corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if resume {
				cfg.Catalog.Resume = true
			}
			if cfg.Annotation.APIKey == "" {
				return fmt.Errorf("OPENROUTER_API_KEY is not set")
			}

			paths, err := collectPDFs(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no PDF files found")
			}

			log := observability.NewLogger(observability.LogConfig{
				Level:       cfg.Observability.LogLevel,
				Format:      cfg.Observability.LogFormat,
				ServiceName: "corpus-builder",
			})

			client := llm.NewClient(llm.Config{
				APIKey:  cfg.Annotation.APIKey,
				Model:   cfg.Annotation.Model,
				BaseURL: cfg.Annotation.BaseURL,
				Timeout: cfg.Annotation.RequestTimeout,
			})

			respCache, err := newCache(cfg)
			if err != nil {
				return err
			}
			defer respCache.Close()

			cat, err := catalog.Open(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer cat.Close()

			p, err := pipeline.New(cfg, pipeline.Options{
				Client:   client,
				Cache:    respCache,
				Catalog:  cat,
				Scorer:   newScorer(cfg),
				Logger:   log,
				Progress: true,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			report, err := p.Run(ctx, paths)
			if err != nil {
				return err
			}

			printReport(report, cfg.Dataset.OutputDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "skip documents already annotated in the catalog")
	return cmd
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <pdf>",
		Short: "Detect elements in one PDF without calling the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			docID := pipeline.DocID(args[0])
			r, err := pdf.Open(args[0], docID)
			if err != nil {
				return err
			}
			defer r.Close()

			detCfg := detect.DefaultConfig()
			detCfg.MinFigureArea = cfg.Detection.MinFigureArea
			detCfg.MinTableArea = cfg.Detection.MinTableArea
			detCfg.ConfidenceThreshold = cfg.Detection.ConfidenceThreshold
			detCfg.OverlapIoU = cfg.Detection.OverlapIoU
			detector := detect.New(detCfg, observability.Nop())

			total := 0
			order := 0
			for i := 0; i < r.NumPages(); i++ {
				content, err := r.PageContent(i)
				if err != nil {
					color.Yellow("page %d: %v", i, err)
					continue
				}

				elements, errs := detector.DetectPage(content, docID, order)
				for _, err := range errs {
					color.Yellow("%v", err)
				}
				for _, el := range elements {
					fmt.Printf("%-28s %-9s conf=%.2f bbox=(%.1f,%.1f,%.1f,%.1f)\n",
						el.ID, el.Type, el.Confidence, el.Box.X1, el.Box.Y1, el.Box.X2, el.Box.Y2)
				}
				total += len(elements)
				order += len(elements)
			}

			color.Green("%d elements across %d pages", total, r.NumPages())
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <corpus.jsonl>",
		Short: "Run consistency checks over an existing corpus file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			samples, err := dataset.ReadJSONL(args[0])
			if err != nil {
				return err
			}

			checker := quality.NewChecker(cfg.Quality.StrictMode)
			bad := 0
			for _, sample := range samples {
				for _, violation := range checker.Check(sample) {
					color.Yellow("%v", violation)
					bad++
				}
			}

			if bad > 0 {
				return fmt.Errorf("%d violations across %d samples", bad, len(samples))
			}
			color.Green("%d samples, all consistent", len(samples))
			return nil
		},
	}
}

func newCache(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}

// newScorer picks the dedup similarity backend. The embedding scorer needs
// an API key; without one it falls back to token overlap.
func newScorer(cfg *config.Config) quality.Scorer {
	if cfg.Quality.Similarity == "embedding" && cfg.Annotation.APIKey != "" {
		if embedder, err := embedding.NewClient(embedding.Config{APIKey: cfg.Annotation.APIKey}); err == nil {
			return quality.NewEmbeddingScorer(embedder)
		}
	}
	return quality.TokenScorer{}
}

func collectPDFs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
				paths = append(paths, filepath.Join(arg, entry.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func printReport(report *pipeline.Report, outDir string) {
	bold := color.New(color.Bold)

	bold.Println("\nRun summary")
	fmt.Printf("  run id:      %s\n", report.RunID)
	fmt.Printf("  documents:   %d (%d failed)\n", report.Documents, report.DocumentsFailed)
	fmt.Printf("  elements:    %d detected, %d annotated\n", report.ElementsDetected, report.ElementsAnnotated)
	fmt.Printf("  samples:     %d (%d rejected)\n", report.Samples, report.SamplesRejected)

	if report.Allocation != nil {
		bold.Println("\nTask mix")
		for _, task := range domain.AllTasks {
			fmt.Printf("  %-22s %d\n", task, report.Allocation.Realized[task])
		}
	}

	if len(report.Errors) > 0 {
		bold.Println("\nFailures by kind")
		kinds := make([]string, 0, len(report.Errors))
		for kind := range report.Errors {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Printf("  %-22s %d\n", kind, report.Errors[domain.ErrorKind(kind)])
		}
	}

	color.Green("\ncorpus written to %s", filepath.Join(outDir, "corpus.jsonl"))
}
