package commands

import (
	"context"
	"fmt"

	"esg-mcp/internal/aggregator"
	"esg-mcp/internal/classifier"
	"esg-mcp/internal/compliance"
	"esg-mcp/internal/config"
	"esg-mcp/internal/embedding"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/notify"
	"esg-mcp/internal/pipeline"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
	"esg-mcp/internal/units"

	"github.com/rs/zerolog/log"
)

// app is the wired object graph shared by the server and the subcommands.
type app struct {
	store    store.Store
	orch     *pipeline.Orchestrator
	matcher  *matcher.Matcher
	units    *units.Registry
	scorer   *compliance.Scorer
	notifier *notify.Async
}

func newApp(ctx context.Context) (*app, error) {
	// 1. Catalogues
	tax, err := taxonomy.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	reg, err := units.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	fw, err := compliance.LoadDefault(tax)
	if err != nil {
		return nil, fmt.Errorf("failed to load frameworks: %w", err)
	}

	// 2. Persistence
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	// 3. Matching
	emb := newEmbedder(ctx, cfg, tuning)
	opts := matcher.Options{Weights: tuning.Matcher, Workers: cfg.MatchWorkers, Units: reg}
	if cfg.Gemini.APIKey != "" && cfg.Gemini.EnableClassifier {
		c, err := classifier.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.ClassifierModel, tuning.Retry)
		if err != nil {
			log.Warn().Err(err).Msg("Classifier unavailable, matching on embeddings only")
		} else {
			opts.Classifier = c
		}
	}
	m := matcher.New(tax, emb, opts)

	// 4. Alerts
	sinks := notify.Multi{notify.Log{}}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.NotifyWebhookURL, tuning.Retry))
	}
	n := notify.NewAsync(sinks, tuning.Pipeline.NotifyTimeout)

	// 5. Pipeline
	scorer := compliance.NewScorer(tax, fw, tuning.Compliance)
	orch := pipeline.New(pipeline.Deps{
		Store:      st,
		Matcher:    m,
		Units:      reg,
		Aggregator: aggregator.New(st, tax, aggregator.Options{CommitTimeout: cfg.CommitTimeout}),
		Scorer:     scorer,
		Notifier:   n,
	}, pipeline.Options{
		AcceptThreshold: tuning.Pipeline.AcceptThreshold,
		FileWorkers:     cfg.FileWorkers,
		DefaultStandard: cfg.DefaultStandard,
	})
	if err := orch.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{store: st, orch: orch, matcher: m, units: reg, scorer: scorer, notifier: n}, nil
}

// Close waits for pending alerts and closes the store.
func (a *app) Close() {
	a.notifier.Wait()
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
}

func openStore(cfg *config.AppConfig) (store.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		m, err := store.OpenMemory(cfg.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Debug().Str("path", cfg.DBPath).Msg("SQLite store ready")
	return st, nil
}

// newEmbedder prefers Gemini with the local hash embedder as fallback.
func newEmbedder(ctx context.Context, cfg *config.AppConfig, t config.Tuning) embedding.Embedder {
	local := embedding.NewHashEmbedder(cfg.Gemini.Dimension)
	if cfg.Gemini.APIKey == "" {
		return local
	}
	g, err := embedding.NewGeminiEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel, cfg.Gemini.Dimension)
	if err != nil {
		log.Warn().Err(err).Msg("Gemini embedder unavailable, using local embeddings")
		return local
	}
	return embedding.NewResilient(g, local, t.Retry, t.Pipeline.EmbeddingCacheTTL)
}
