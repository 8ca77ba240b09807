/*
ingest runs a single RAG ingestion invocation: crawl a site, extract
topics, decide create-vs-merge against the existing document set, and
persist the result.

Usage:

	go run cmd/ingest/main.go -url https://example.com/docs [flags]

Flags:

	-url string
	    Start URL to crawl (required)
	-max-pages int
	    Maximum pages to crawl (default 50)
	-dsn string
	    PostgreSQL connection string (DATABASE_URL env)
	-llm-provider string
	    "openai" or "anthropic" (LLM_PROVIDER env, default "openai")
	-llm-model string
	    LLM model name (LLM_MODEL env)
	-llm-api-key string
	    LLM API key (LLM_API_KEY env)
	-embed-base-url string
	    Embedding endpoint (EMBED_BASE_URL env)
	-embed-api-key string
	    Embedding API key (EMBED_API_KEY env)
	-embed-model string
	    Embedding model name (EMBED_MODEL env)
	-mode string
	    "paragraph", "full_doc", or "both" (default "paragraph")
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ragingest/internal/config"
	"ragingest/internal/crawler"
	"ragingest/internal/docs"
	"ragingest/internal/embedclient"
	"ragingest/internal/llmclient"
	"ragingest/internal/merge"
	"ragingest/internal/observability"
	"ragingest/internal/orchestrator"
	"ragingest/internal/store"
	"ragingest/internal/topics"
)

func main() {
	startURL := flag.String("url", "", "start URL to crawl (required)")
	maxPages := flag.Int("max-pages", 50, "maximum pages to crawl")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (DATABASE_URL env)")
	llmProvider := flag.String("llm-provider", envOr("LLM_PROVIDER", "openai"), "openai or anthropic")
	llmModel := flag.String("llm-model", os.Getenv("LLM_MODEL"), "LLM model name")
	llmAPIKey := flag.String("llm-api-key", os.Getenv("LLM_API_KEY"), "LLM API key")
	embedBaseURL := flag.String("embed-base-url", os.Getenv("EMBED_BASE_URL"), "embedding endpoint")
	embedAPIKey := flag.String("embed-api-key", os.Getenv("EMBED_API_KEY"), "embedding API key")
	embedModel := flag.String("embed-model", os.Getenv("EMBED_MODEL"), "embedding model name")
	mode := flag.String("mode", envOr("MODE", string(config.ModeParagraph)), "paragraph, full_doc, or both")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "zerolog level")
	flag.Parse()

	observability.InitLogger("", *logLevel)

	if *startURL == "" {
		fmt.Fprintln(os.Stderr, "error: -url is required")
		os.Exit(1)
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "error: -dsn or DATABASE_URL env required")
		os.Exit(1)
	}

	cfg := config.Defaults()
	cfg.DB.DSN = *dsn
	cfg.LLM.Provider = *llmProvider
	cfg.LLM.Model = *llmModel
	cfg.LLM.APIKey = *llmAPIKey
	cfg.Embedding.BaseURL = *embedBaseURL
	cfg.Embedding.APIKey = *embedAPIKey
	cfg.Embedding.Model = *embedModel
	cfg.Mode = config.Mode(*mode)

	ctx := context.Background()
	report, err := run(ctx, cfg, *startURL, *maxPages)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pages=%d topics=%d created=%d merged=%d errors=%d\n",
		report.PagesCrawled, report.TopicsExtracted, report.DocumentsCreated,
		report.DocumentsMerged, len(report.Errors))
	if report.Failed {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, startURL string, maxPages int) (orchestrator.Report, error) {
	log := observability.NewZerologLogger(ctx)
	metrics := observability.NewOtelMetrics()

	st, err := store.New(ctx, cfg.DB, log)
	if err != nil {
		return orchestrator.Report{}, fmt.Errorf("open document store: %w", err)
	}
	defer st.Close()

	provider, err := llmclient.NewProvider(cfg.LLM, nil)
	if err != nil {
		return orchestrator.Report{}, fmt.Errorf("build llm provider: %w", err)
	}
	// One LLMClient for the whole invocation: its rate.Limiter is the
	// process-wide LLM limiter spec.md §5 requires, shared by every
	// LLM-consuming stage rather than allocated per component.
	llm := llmclient.New(provider, cfg.LLM, log)

	embed := embedclient.New(cfg.Embedding, log)

	extractor := topics.New(llm, log)
	decider := merge.New(cfg.Merge, embed, llm, st, log)
	creator := docs.NewCreator(st, embed, log)
	merger := docs.NewMerger(st, embed, llm, log)

	crawl := crawler.New(log)

	o := orchestrator.New(crawl, extractor, decider, creator, merger, st, cfg, metrics, log)
	return o.Run(ctx, startURL, maxPages)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
