// Package index keeps the vector store in step with the agent directory. It
// composes canonical agent text, embeds it, and upserts the result, both for
// single agents (registration events) and for full directory sweeps.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentmesh/agentsearch/engine/domain"
	"github.com/agentmesh/agentsearch/engine/semantic"
	"github.com/agentmesh/agentsearch/pkg/fn"
)

// DefaultWorkers bounds concurrency during a full re-index.
const DefaultWorkers = 4

// embedRetry retries transient embedding failures once before the agent is
// counted as failed.
var embedRetry = fn.RetryOpts{
	MaxAttempts: 2,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     time.Second,
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter is the slice of the vector store the indexer needs.
type VectorWriter interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	Delete(ctx context.Context, agentID string) error
}

// Directory reads registry entries from the system of record.
type Directory interface {
	Get(ctx context.Context, agentID string) (domain.RegistryEntry, error)
	SnapshotAll(ctx context.Context) ([]domain.RegistryEntry, error)
}

// Options tunes a bulk index run.
type Options struct {
	// Workers is the number of agents indexed concurrently. Zero means
	// DefaultWorkers.
	Workers int
	// EmbedRate caps embedding calls per second across all workers so a
	// full sweep cannot starve interactive search traffic. Zero disables
	// pacing.
	EmbedRate  rate.Limit
	EmbedBurst int
}

// Service indexes agents into the vector store.
type Service struct {
	dir     Directory
	embed   Embedder
	store   VectorWriter
	workers int
	limiter *rate.Limiter
	logger  *slog.Logger
	pipe    fn.Stage[domain.RegistryEntry, string]
}

// composed and embedded are the intermediate shapes flowing through the
// indexing pipeline.
type composed struct {
	entry domain.RegistryEntry
	text  string
}

type embedded struct {
	composed
	vector []float32
}

// NewService wires an indexing service over a directory, an embedder, and a
// vector store.
func NewService(dir Directory, embed Embedder, store VectorWriter, opts Options, logger *slog.Logger) *Service {
	s := &Service{
		dir:     dir,
		embed:   embed,
		store:   store,
		workers: opts.Workers,
		logger:  logger,
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if opts.EmbedRate > 0 {
		burst := opts.EmbedBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.EmbedRate, burst)
	}

	s.pipe = fn.Then(
		fn.Then(
			fn.TracedStage("index.compose", composeStage()),
			fn.TracedStage("index.embed", fn.RetryStage(embedRetry, s.embedStage())),
		),
		fn.TracedStage("index.store", s.storeStage()),
	)
	return s
}

func composeStage() fn.Stage[domain.RegistryEntry, composed] {
	return fn.MapStage(func(e domain.RegistryEntry) composed {
		return composed{entry: e, text: ComposeAgentText(e.Card, e.Tags)}
	})
}

func (s *Service) embedStage() fn.Stage[composed, embedded] {
	return func(ctx context.Context, c composed) fn.Result[embedded] {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return fn.Err[embedded](err)
			}
		}
		vec, err := s.embed.Embed(ctx, c.text)
		if err != nil {
			return fn.Errf[embedded]("index: embed agent %s: %w", c.entry.AgentID, err)
		}
		return fn.Ok(embedded{composed: c, vector: vec})
	}
}

func (s *Service) storeStage() fn.Stage[embedded, string] {
	return func(ctx context.Context, e embedded) fn.Result[string] {
		rec := semantic.VectorRecord{
			AgentID:      e.entry.AgentID,
			Embedding:    e.vector,
			Card:         e.entry.Card,
			Tags:         e.entry.Tags,
			Verified:     e.entry.Verified,
			Text:         e.text,
			RegisteredAt: e.entry.RegisteredAt.UTC().Format(time.RFC3339),
		}
		if err := s.store.Upsert(ctx, []semantic.VectorRecord{rec}); err != nil {
			return fn.Errf[string]("index: upsert agent %s: %w", e.entry.AgentID, err)
		}
		return fn.Ok(e.entry.AgentID)
	}
}

// IndexOne embeds and stores a single agent. The directory entry is the
// source of truth for verification state and registration time; the request
// card and tags are what get embedded. Nothing is written if any step fails.
func (s *Service) IndexOne(ctx context.Context, req domain.IndexRequest) error {
	if err := domain.ValidateIndexRequest(req); err != nil {
		return err
	}

	entry, err := s.dir.Get(ctx, req.AgentID)
	if err != nil {
		return err
	}
	entry.Card = req.Card
	if req.Tags != nil {
		entry.Tags = req.Tags
	}

	if _, err := s.pipe(ctx, entry).Unwrap(); err != nil {
		return err
	}
	s.logger.Info("agent indexed", "agent_id", req.AgentID)
	return nil
}

// Remove deletes an agent's vector. Removing an unknown agent is a no-op.
func (s *Service) Remove(ctx context.Context, agentID string) error {
	if agentID == "" {
		return domain.NewValidationError("agent_id", agentID, domain.ErrEmptyAgentID)
	}
	if err := s.store.Delete(ctx, agentID); err != nil {
		return fmt.Errorf("index: delete agent %s: %w", agentID, err)
	}
	s.logger.Info("agent removed from index", "agent_id", agentID)
	return nil
}

// IndexAll re-indexes every agent in the directory. Individual agent failures
// are counted and logged but never abort the run; only a failed directory
// snapshot does. An empty directory yields a zero run.
func (s *Service) IndexAll(ctx context.Context) (domain.IndexRun, error) {
	start := time.Now()

	entries, err := s.dir.SnapshotAll(ctx)
	if err != nil {
		return domain.IndexRun{}, fmt.Errorf("index: snapshot directory: %w", err)
	}

	results := fn.ParMapResult(entries, s.workers, func(e domain.RegistryEntry) fn.Result[string] {
		return s.pipe(ctx, e)
	})

	run := domain.IndexRun{Duration: time.Since(start)}
	for i, r := range results {
		if _, err := r.Unwrap(); err != nil {
			run.Failed++
			s.logger.Warn("agent index failed",
				"agent_id", entries[i].AgentID,
				"error", err)
			continue
		}
		run.Indexed++
	}

	s.logger.Info("full index complete",
		"indexed", run.Indexed,
		"failed", run.Failed,
		"duration_ms", run.Duration.Milliseconds())
	return run, nil
}
