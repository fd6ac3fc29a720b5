package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/crawl-scheduler/pkg/config"
	"github.com/Sriram-PR/crawl-scheduler/pkg/fetch"
	"github.com/Sriram-PR/crawl-scheduler/pkg/metrics"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/queue"
	"github.com/Sriram-PR/crawl-scheduler/pkg/robots"
	"github.com/Sriram-PR/crawl-scheduler/pkg/scheduler"
	"github.com/Sriram-PR/crawl-scheduler/pkg/scoring"
	"github.com/Sriram-PR/crawl-scheduler/pkg/storage"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const storeGCInterval = 10 * time.Minute

type pipelineOptions struct {
	RunName        string
	Resume         bool
	Output         io.Writer // One JSON result per line
	FrontierPath   string    // Optional: accepted URLs in score order
	ResultsLogPath string    // Optional: result store dump
	Counters       metrics.Counters
	Source         robots.RulesSource // Overrides the source built from the config
}

// buildRulesSource picks where exclusion rules come from
func buildRulesSource(cfg *config.AppConfig, log *logrus.Entry) robots.RulesSource {
	if !cfg.EffectiveRespectRobots() {
		log.Warn("respect_robots is false: every URL is allowed and no robots.txt is fetched")
		return robots.StaticSource(robots.AllowAll())
	}
	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(client, fetch.PolicyFromConfig(cfg), log)
	return robots.NewHTTPRulesSource(fetcher, robots.RobotstxtParser{UserAgent: cfg.UserAgent},
		cfg.RobotsScheme, cfg.UserAgent, log).WithRateLimit(cfg.RobotsFetchRate, cfg.RobotsFetchBurst)
}

// runPipeline groups records by domain, classifies them, and streams every
// result to opts.Output through the staging queue. It returns once every
// dispatched domain has finished and the output is flushed.
func runPipeline(ctx context.Context, cfg *config.AppConfig, records []models.URLRecord, opts pipelineOptions, log *logrus.Entry) (scheduler.Summary, error) {
	source := opts.Source
	if source == nil {
		source = buildRulesSource(cfg, log)
	}

	resolver, err := robots.NewResolver(source, robots.ResolverOptions{
		PoolSize: cfg.ResolverPoolSize,
		Timeout:  cfg.RobotsFetchTimeout,
		Counters: opts.Counters,
		Logger:   log,
	})
	if err != nil {
		return scheduler.Summary{}, err
	}

	scorer, err := scoring.New(cfg)
	if err != nil {
		return scheduler.Summary{}, err
	}

	dq, err := queue.NewDiskQueue[models.ScoredURL](cfg.QueueCapacity, queue.DiskQueueOptions{
		SpillDir:    cfg.SpillDir,
		RefillRatio: cfg.QueueRefillRatio,
		Logger:      log.WithField("component", "staging_queue"),
	})
	if err != nil {
		return scheduler.Summary{}, err
	}
	staging := queue.NewSyncQueue(dq, log)
	defer func() {
		if err := staging.Release(); err != nil {
			log.Warnf("Failed to release staging queue: %v", err)
		}
	}()

	emitters := scheduler.MultiEmitter{scheduler.QueueEmitter{Queue: staging}}

	var store *storage.BadgerStore
	if cfg.EnableResultStore {
		store, err = storage.NewBadgerStore(cfg.StateDir, opts.RunName, opts.Resume, log)
		if err != nil {
			return scheduler.Summary{}, err
		}
		defer store.Close()

		gcCtx, stopGC := context.WithCancel(ctx)
		defer stopGC()
		go store.RunGC(gcCtx, storeGCInterval)

		emitters = append(emitters, store)
	}

	sched, err := scheduler.New(scheduler.Options{
		Resolver:              resolver,
		Scorer:                scorer,
		Emitter:               emitters,
		Counters:              opts.Counters,
		MaxOutstandingDomains: cfg.MaxOutstandingDomains,
		MaxURLsPerServer:      cfg.MaxURLsPerServer,
		Logger:                log,
	})
	if err != nil {
		return scheduler.Summary{}, err
	}

	frontier := queue.NewFrontierQueue(log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return drainResults(staging, opts.Output, frontier)
	})

	groups := scheduler.GroupByDomain(records)
	log.Infof("Scheduling %d records across %d domains", len(records), len(groups))
	var loopErr error
	for _, group := range groups {
		if loopErr = gctx.Err(); loopErr != nil {
			break
		}
		sched.Classify(gctx, group)
	}

	summary, awaitErr := sched.AwaitCompletion(gctx)
	if awaitErr == nil {
		awaitErr = loopErr
	}
	staging.Close()
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if awaitErr != nil {
		return summary, awaitErr
	}

	for domain, cause := range sched.FailedOpen() {
		log.WithFields(logrus.Fields{
			"domain":         domain,
			"error_category": utils.CategorizeError(cause),
		}).Warnf("Domain scheduled without exclusion rules: %v", cause)
	}

	frontier.Close()
	if opts.FrontierPath != "" {
		if err := writeFrontier(frontier, opts.FrontierPath, log); err != nil {
			return summary, err
		}
	} else {
		log.Infof("Frontier holds %d accepted URLs", frontier.Len())
	}

	if store != nil {
		if counts, err := store.CountByDisposition(ctx); err != nil {
			log.Warnf("Failed to count stored results: %v", err)
		} else {
			log.WithField("stored", counts).Infof("Result store holds %d URLs", store.ResultCount())
		}
		if opts.ResultsLogPath != "" {
			if err := store.WriteResultsLog(ctx, opts.ResultsLogPath); err != nil {
				return summary, err
			}
		}
	}

	return summary, nil
}

// drainResults writes staged results as JSON lines until the staging queue is
// closed and empty. Accepted results also go to the frontier.
func drainResults(staging *queue.SyncQueue[models.ScoredURL], out io.Writer, frontier *queue.FrontierQueue) error {
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for {
		rec, ok, err := staging.Pop()
		if err != nil {
			return fmt.Errorf("reading staged results: %w", err)
		}
		if !ok {
			break
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("%w: writing result %s: %w", utils.ErrFilesystem, rec.URL, err)
		}
		if rec.IsAccepted() {
			frontier.Add(&rec)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing results: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// writeFrontier empties a closed frontier into path, highest score first
func writeFrontier(frontier *queue.FrontierQueue, path string, log *logrus.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create frontier file %q: %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	written := 0
	for {
		item, ok := frontier.Pop()
		if !ok {
			break
		}
		if _, err := fmt.Fprintf(bw, "%s\t%g\t%s\n", item.URL, item.Score, item.CrawlDelay); err != nil {
			return fmt.Errorf("%w: writing frontier: %w", utils.ErrFilesystem, err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing frontier: %w", utils.ErrFilesystem, err)
	}
	log.Infof("Wrote %d accepted URLs to frontier file %s", written, path)
	return nil
}
