package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/app"
	"github.com/raaihank/langmodel/internal/config"
	"github.com/raaihank/langmodel/internal/etl"
	"github.com/raaihank/langmodel/internal/logger"
	"github.com/raaihank/langmodel/internal/pooling"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path")
		inputFile   = flag.String("input", "", "Input dataset file (CSV, Parquet, JSON lines or text)")
		outputFile  = flag.String("output", "", "Write vectors as JSON lines to this file (- for stdout)")
		toStore     = flag.Bool("store", false, "Write vectors to the pgvector store")
		saveDir     = flag.String("save", "", "Save the loaded model to this directory")
		strategy    = flag.String("strategy", "", "Extraction strategy (overrides config)")
		layer       = flag.String("layer", "", "Extraction layer, -1 is the last (overrides config)")
		ignoreFirst = flag.String("ignore-first", "", "Ignore the first token when pooling: true or false (overrides config)")
		batchSize   = flag.Int("batch-size", 0, "Records per batch (overrides config)")
		skipIndex   = flag.Bool("skip-index", false, "Skip creating the vector index")
		clearCache  = flag.Bool("clear-cache", false, "Clear the Redis vector cache and exit")
		showStats   = flag.Bool("stats", false, "Show store and cache statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && *saveDir == "" && !*showStats && !*clearCache {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input dataset.csv -output vectors.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input dataset.parquet -store -strategy cls_token -layer -2\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -save ./models/bert-base-cased\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, *strategy, *layer, *ignoreFirst, *batchSize); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		os.Exit(1)
	}
	if *toStore || *showStats {
		cfg.Store.Enabled = true
	}
	if *clearCache {
		cfg.Cache.Enabled = true
	}
	if *skipIndex {
		cfg.ETL.CreateIndex = false
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting langmodel extraction",
		zap.String("model", cfg.Model.NameOrPath),
		zap.String("extraction", cfg.Inference.Extraction.String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	services, err := app.Initialize(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	switch {
	case *showStats:
		err = showStatistics(ctx, services)
	case *clearCache:
		err = clearVectorCache(ctx, services, log)
	default:
		if *saveDir != "" {
			if err = services.Model.Save(*saveDir); err != nil {
				break
			}
			log.Info("Model saved", zap.String("dir", *saveDir))
		}
		if *inputFile != "" {
			err = processDataset(ctx, cfg, services, *inputFile, *outputFile, *toStore, log)
		}
	}
	if err != nil {
		log.Fatal("Extraction failed", zap.Error(err))
	}

	log.Info("Extraction completed successfully")
}

// applyFlags overrides the inference section from command line flags
func applyFlags(cfg *config.Config, strategy, layer, ignoreFirst string, batchSize int) error {
	e := &cfg.Inference.Extraction
	if strategy != "" {
		s, err := pooling.ParseStrategy(strategy)
		if err != nil {
			return err
		}
		e.Strategy = s
	}
	if layer != "" {
		l, err := strconv.Atoi(layer)
		if err != nil {
			return fmt.Errorf("invalid layer %q: %w", layer, err)
		}
		e.Layer = l
	}
	if ignoreFirst != "" {
		v, err := strconv.ParseBool(ignoreFirst)
		if err != nil {
			return fmt.Errorf("invalid ignore-first %q: %w", ignoreFirst, err)
		}
		e.IgnoreFirstToken = v
	}
	if batchSize > 0 {
		cfg.Inference.BatchSize = batchSize
		cfg.ETL.BatchSize = batchSize
	}
	return pooling.ValidateLayer(e.Strategy, e.Layer, 0)
}

// processDataset runs the input file through the model into the sinks
func processDataset(ctx context.Context, cfg *config.Config, services *app.Services, inputFile, outputFile string, toStore bool, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	var sinks []etl.Sink
	switch outputFile {
	case "":
	case "-":
		// Hide Close so stdout stays open for the logger.
		sinks = append(sinks, etl.NewJSONLSink(struct{ io.Writer }{os.Stdout}))
	default:
		sink, err := etl.CreateJSONLSink(outputFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	info := services.Inferencer.Info()
	if toStore {
		sink, err := etl.NewStoreSink(services.Store, info.Name, string(info.Family), info.Extraction)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no output selected; use -output and/or -store")
	}

	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				log.Error("Failed to close output", zap.Error(err))
			}
		}
	}()

	pipeline := etl.NewPipeline(services.Inferencer, sinks, &cfg.ETL, log.WithComponent("etl").Logger)
	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("written", result.Written),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("extraction_time", result.ExtractionTime),
		zap.Duration("write_time", result.WriteTime))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	if toStore && cfg.ETL.CreateIndex {
		if err := services.Store.CreateIndex(ctx); err != nil {
			log.Warn("Failed to create vector index", zap.Error(err))
		}
	}
	return nil
}

// showStatistics displays store and cache statistics
func showStatistics(ctx context.Context, services *app.Services) error {
	stats, err := services.Store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get store stats: %w", err)
	}

	fmt.Printf("\n=== Vector Store Statistics ===\n")
	fmt.Printf("Total Vectors:      %d\n", stats.TotalVectors)
	for _, m := range stats.ByModel {
		fmt.Printf("  %-40s %-12s layer %3d  %d\n", m.Model, m.Strategy, m.Layer, m.Count)
	}

	if services.Cache != nil {
		cacheStats, err := services.Cache.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Cache Statistics ===\n")
			fmt.Printf("Cache Hits:         %d\n", cacheStats.Hits)
			fmt.Printf("Cache Misses:       %d\n", cacheStats.Misses)
			fmt.Printf("Hit Rate:           %.1f%%\n", cacheStats.HitRate)
			fmt.Printf("Total Keys:         %d\n", cacheStats.TotalKeys)
		}
	}
	return nil
}

func clearVectorCache(ctx context.Context, services *app.Services, log *logger.Logger) error {
	if services.Cache == nil {
		return fmt.Errorf("vector cache is not enabled")
	}
	if err := services.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	log.Info("Vector cache cleared")
	return nil
}
