// Package orchestrator implements C9: the five-stage pipeline that
// sequences crawling, topic extraction, merge decisions, and document
// create/merge per page, feeding an iterative per-page loop so later pages
// see the merges produced by earlier pages.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"ragingest/internal/config"
	"ragingest/internal/crawler"
	"ragingest/internal/docs"
	"ragingest/internal/merge"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
	"ragingest/internal/topics"
)

// tracer emits one span per pipeline stage, so a trace backend can show the
// crawl/extract/decide/persist breakdown for a single invocation.
var tracer = otel.Tracer("ragingest/internal/orchestrator")

// Orchestrator is C9.
type Orchestrator struct {
	crawler   crawler.Crawler
	extractor *topics.Extractor
	decider   *merge.Decider
	creator   *docs.Creator
	merger    *docs.Merger
	store     docs.Store
	cfg       config.Config
	metrics   observability.Metrics
	log       observability.Logger
}

// New wires together the five stages' components for a single invocation.
func New(
	crawler crawler.Crawler,
	extractor *topics.Extractor,
	decider *merge.Decider,
	creator *docs.Creator,
	merger *docs.Merger,
	store docs.Store,
	cfg config.Config,
	metrics observability.Metrics,
	log observability.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Orchestrator{
		crawler: crawler, extractor: extractor, decider: decider,
		creator: creator, merger: merger, store: store,
		cfg: cfg, metrics: metrics, log: log,
	}
}

// Run executes the full pipeline for one invocation: crawl, then an
// iterative per-page loop of extract -> decide -> create/merge.
func (o *Orchestrator) Run(ctx context.Context, startURL string, maxPages int) (Report, error) {
	report := Report{}

	crawlCtx := observability.WithStage(ctx, string(StageCrawl))
	crawlCtx, crawlSpan := tracer.Start(crawlCtx, string(StageCrawl))
	result, err := o.crawler.Crawl(crawlCtx, startURL, maxPages)
	if err != nil {
		report.Failed = true
		report.addStage(StageCrawl, "", StatusFailed, err.Error())
		report.addError(StageCrawl, "", string(ragerrors.KindFatal), err.Error())
		o.log.Error("crawl failed", map[string]any{"kind": ragerrors.KindFatal, "err": err.Error()})
		crawlSpan.RecordError(err)
		crawlSpan.SetStatus(codes.Error, err.Error())
		crawlSpan.End()
		return report, ragerrors.Wrap(ragerrors.KindFatal, "crawl failed", err)
	}
	report.PagesCrawled = result.PagesCrawled
	if result.PagesCrawled == 0 {
		report.Failed = true
		report.addStage(StageCrawl, "", StatusFailed, "0 pages crawled")
		report.addError(StageCrawl, "", string(ragerrors.KindFatal), "0 pages crawled for the whole run")
		o.log.Error("0 pages crawled, aborting run", map[string]any{"kind": ragerrors.KindFatal})
		crawlSpan.SetStatus(codes.Error, "0 pages crawled")
		crawlSpan.End()
		return report, ragerrors.New(ragerrors.KindFatal, "0 pages crawled, aborting run")
	}
	report.addStage(StageCrawl, "", StatusSuccess, fmt.Sprintf("%d pages", result.PagesCrawled))
	crawlSpan.End()

	for _, page := range result.Pages {
		if err := ctx.Err(); err != nil {
			return report, ragerrors.Wrap(ragerrors.KindRetryable, "run cancelled", err)
		}
		o.processPage(ctx, page, result.OutputDir, &report)
		if last := report.Stages[len(report.Stages)-1]; last.Stage == StagePersist && last.Status == StatusFailed {
			report.Failed = true
			o.log.Error("no document saved for page, aborting run", map[string]any{"kind": ragerrors.KindFatal, "page": page.URL})
			return report, ragerrors.New(ragerrors.KindFatal, "no document saved for page "+page.URL+", aborting run")
		}
	}

	return report, nil
}

// processPage runs extract -> decide -> create/merge for one page,
// strictly after all DB commits of prior pages, so MergeDecider's snapshot
// sees every earlier page's creates/merges.
func (o *Orchestrator) processPage(ctx context.Context, page crawler.Page, outputDir string, report *Report) {
	ctx = observability.WithPage(ctx, page.URL)

	if outputDir == "" {
		report.addStage(StageExtract, page.URL, StatusSkipped, "missing output_dir")
		return
	}

	extractCtx, extractSpan := tracer.Start(observability.WithStage(ctx, string(StageExtract)), string(StageExtract))
	pageTopics, err := o.topicsForPage(extractCtx, page)
	if err != nil {
		report.addStage(StageExtract, page.URL, StatusFailed, err.Error())
		report.addError(StageExtract, "", string(ragerrors.KindValidation), err.Error())
		o.log.Error("topic extraction failed", map[string]any{"kind": ragerrors.KindValidation, "err": err.Error()})
		extractSpan.RecordError(err)
		extractSpan.SetStatus(codes.Error, err.Error())
		extractSpan.End()
		return
	}
	if len(pageTopics) == 0 {
		report.addStage(StageExtract, page.URL, StatusSkipped, "no topics extracted")
		extractSpan.End()
		return
	}
	report.addStage(StageExtract, page.URL, StatusSuccess, fmt.Sprintf("%d topics", len(pageTopics)))
	report.TopicsExtracted += len(pageTopics)
	extractSpan.End()

	decideCtx, decideSpan := tracer.Start(observability.WithStage(ctx, string(StageDecide)), string(StageDecide))
	existingDocs, err := o.store.GetAll(decideCtx)
	if err != nil {
		report.addStage(StageDecide, page.URL, StatusFailed, err.Error())
		report.addError(StageDecide, "", string(ragerrors.KindRetryable), err.Error())
		o.log.Error("loading existing documents failed", map[string]any{"kind": ragerrors.KindRetryable, "err": err.Error()})
		decideSpan.RecordError(err)
		decideSpan.SetStatus(codes.Error, err.Error())
		decideSpan.End()
		return
	}

	decisions := o.decideAll(decideCtx, pageTopics, existingDocs, report)
	report.addStage(StageDecide, page.URL, StatusSuccess, fmt.Sprintf("%d decisions", len(decisions)))
	decideSpan.End()

	persistCtx, persistSpan := tracer.Start(observability.WithStage(ctx, string(StagePersist)), string(StagePersist))
	o.applyDecisions(persistCtx, pageTopics, decisions, page.URL, report)
	persistSpan.End()
}

// decideAll runs MergeDecider for every topic in page-extraction order,
// bounded by cfg.Parallel.LLMConcurrency in-flight at once. Every topic
// sees the same existingDocs snapshot (no read-your-writes within a page).
func (o *Orchestrator) decideAll(ctx context.Context, pageTopics []topics.Topic, existingDocs []docs.Document, report *Report) []merge.Decision {
	concurrency := int64(o.cfg.Parallel.LLMConcurrency)
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := semaphore.NewWeighted(concurrency)
	decisions := make([]merge.Decision, len(pageTopics))

	var wg sync.WaitGroup
	for i := range pageTopics {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation before this topic's decision ran: decisions[i]
			// stays zero-value. Record it explicitly rather than letting
			// applyDecisions' switch silently skip an empty Action.
			report.addError(StageDecide, pageTopics[i].Title, string(ragerrors.KindFatal), "decision skipped: "+err.Error())
			o.log.Error("merge decision skipped, context cancelled before it ran", map[string]any{"kind": ragerrors.KindFatal, "topic": pageTopics[i].Title, "err": err.Error()})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			dec, err := o.decider.Decide(ctx, &pageTopics[i], existingDocs)
			if err != nil {
				o.log.Error("merge decision failed, defaulting to create", map[string]any{"topic": pageTopics[i].Title, "err": err.Error()})
				dec = merge.Decision{Action: merge.ActionCreate}
			}
			decisions[i] = dec
		}()
	}
	wg.Wait()

	for _, dec := range decisions {
		switch dec.Action {
		case merge.ActionCreate:
			report.Decisions.Create++
		case merge.ActionMerge:
			report.Decisions.Merge++
		}
		if dec.Verified {
			report.Decisions.Verify++
		}
	}
	return decisions
}

// applyDecisions runs creates and merges in topic-extraction order,
// serialized per page: each create/merge is one transaction, and no two
// transactions on the same document ever run concurrently.
func (o *Orchestrator) applyDecisions(ctx context.Context, pageTopics []topics.Topic, decisions []merge.Decision, pageURL string, report *Report) {
	successes, failures := 0, 0
	attempted := 0

	for i, dec := range decisions {
		topic := pageTopics[i]
		if dec == (merge.Decision{}) {
			// Already recorded as a cancellation error in decideAll; never
			// reached a real decision, so it's neither attempted nor a
			// silent success.
			continue
		}
		attempted++
		switch dec.Action {
		case merge.ActionCreate:
			res, err := o.creator.Create(ctx, topic)
			if err != nil {
				failures++
				report.addError(StagePersist, topic.Title, string(ragerrors.KindFatal), err.Error())
				continue
			}
			successes++
			report.DocumentsCreated++
			_ = res
		case merge.ActionMerge:
			res, err := o.merger.Merge(ctx, dec.DocID, topic)
			if err != nil {
				failures++
				report.addError(StagePersist, topic.Title, string(ragerrors.KindFatal), err.Error())
				continue
			}
			successes++
			report.DocumentsMerged++
			_ = res
		}
	}

	switch {
	case attempted == 0:
		report.addStage(StagePersist, pageURL, StatusSkipped, "no decisions to persist")
	case failures == 0:
		report.addStage(StagePersist, pageURL, StatusSuccess, fmt.Sprintf("%d persisted", successes))
	case successes == 0:
		report.addStage(StagePersist, pageURL, StatusFailed, fmt.Sprintf("%d failed", failures))
	default:
		report.addStage(StagePersist, pageURL, StatusPartial, fmt.Sprintf("%d ok, %d failed", successes, failures))
	}
}

// topicsForPage selects extraction granularity per cfg.Mode. "both" runs
// both granularities and relies on MergeDecider's per-invocation verify
// dedup (and the title-similarity dedup within Dedup) so the same topic is
// never LLM-verified twice.
func (o *Orchestrator) topicsForPage(ctx context.Context, page crawler.Page) ([]topics.Topic, error) {
	switch o.cfg.Mode {
	case config.ModeFullDoc:
		return []topics.Topic{fullDocTopic(page)}, nil
	case config.ModeBoth:
		paragraph, err := o.extractor.Extract(ctx, page)
		if err != nil {
			return nil, err
		}
		return topics.Dedup(append(paragraph, fullDocTopic(page))), nil
	default:
		return o.extractor.Extract(ctx, page)
	}
}

var headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

// fullDocTopic treats an entire crawled page as a single topic candidate,
// bypassing fine-grained LLM extraction for full_doc mode.
func fullDocTopic(page crawler.Page) topics.Topic {
	title := "Untitled page"
	if m := headingRe.FindStringSubmatch(page.Markdown); len(m) == 2 {
		title = strings.TrimSpace(m[1])
	}
	return topics.Topic{
		Title:     title,
		Content:   page.Markdown,
		SourceURL: page.URL,
	}
}
