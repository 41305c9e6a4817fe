// Command syncd keeps the vector index in step with the agent directory. It
// consumes registration events from NATS and periodically re-indexes the full
// directory to repair any drift.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/agentmesh/agentsearch/engine/index"
	"github.com/agentmesh/agentsearch/engine/registry"
	"github.com/agentmesh/agentsearch/engine/semantic"
	"github.com/agentmesh/agentsearch/pkg/metrics"
	"github.com/agentmesh/agentsearch/pkg/ollama"
)

var met = metrics.New()

var (
	mSweepRuns    = met.Counter("agentsearch_sync_sweeps_total", "Full re-index sweeps")
	mSweepIndexed = met.Counter("agentsearch_sync_sweep_indexed_total", "Agents indexed by sweeps")
	mSweepFailed  = met.Counter("agentsearch_sync_sweep_failed_total", "Agents that failed during sweeps")
	mSweepDur     = met.Histogram("agentsearch_sync_sweep_duration_seconds", "Full sweep time", nil)
	mLastSweep    = met.Gauge("agentsearch_sync_last_sweep_timestamp", "Epoch of last completed sweep")
)

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("model", "all-minilm", "Ollama embedding model")
		embedDims   = flag.Int("dims", 384, "embedding dimensions")
		embedRate   = flag.Float64("embed-rate", 20, "max embedding calls per second during sweeps (0 = unlimited)")
		neo4jURL    = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "agent_embeddings", "Qdrant collection name")
		workers     = flag.Int("workers", index.DefaultWorkers, "concurrent agents per sweep")
		interval    = flag.Duration("interval", 15*time.Minute, "full re-index interval")
		metricsPort = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	log := slog.Default()
	met.ServeAsync(*metricsPort, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	met.CollectRuntime(15*time.Second, ctx.Done())

	// Connect Neo4j
	directory, err := registry.New(*neo4jURL, *neo4jUser, *neo4jPass)
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer directory.Close(ctx)
	if !directory.Healthy(ctx) {
		log.Error("neo4j verify failed")
		os.Exit(1)
	}
	log.Info("connected to Neo4j")

	// Connect Qdrant
	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, *embedDims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", *embedDims)

	// Ollama embedder
	embedder := ollama.NewEmbedClient(*ollamaURL, *ollamaModel, *embedDims)
	log.Info("using Ollama embeddings", "model", *ollamaModel)

	svc := index.NewService(directory, embedder, vs, index.Options{
		Workers:   *workers,
		EmbedRate: rate.Limit(*embedRate),
	}, log)

	// Connect NATS
	nc, err := nats.Connect(*natsURL,
		nats.Name("agentsearch-syncd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	subs, err := index.StartConsumer(nc, svc, log)
	if err != nil {
		log.Error("consumer start failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()
	log.Info("consuming directory events",
		"index_subject", index.IndexedSubject,
		"remove_subject", index.RemovedSubject,
	)

	sweep := func() {
		start := time.Now()
		run, err := svc.IndexAll(ctx)
		if err != nil {
			log.Error("sweep failed", "error", err)
			return
		}
		mSweepRuns.Inc()
		mSweepIndexed.Add(int64(run.Indexed))
		mSweepFailed.Add(int64(run.Failed))
		mSweepDur.Since(start)
		mLastSweep.Set(time.Now().Unix())
	}

	// Initial sweep so a fresh collection is populated before the first tick.
	sweep()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
