package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/chunker"
	"github.com/dshills/repoexplain/internal/config"
	"github.com/dshills/repoexplain/internal/embedder"
	"github.com/dshills/repoexplain/internal/fetcher"
	"github.com/dshills/repoexplain/internal/generation"
	"github.com/dshills/repoexplain/internal/indexer"
	"github.com/dshills/repoexplain/internal/logging"
	"github.com/dshills/repoexplain/internal/pipeline"
	"github.com/dshills/repoexplain/internal/retriever"
	"github.com/dshills/repoexplain/internal/storage"
)

// globalFlags override configuration values when set on the command line
type globalFlags struct {
	configPath string
	logLevel   string
	location   string
	collection string
	model      string
	backend    string
}

// app holds what every command shares: configuration, logger, the model
// cache and the store openers. readOpen never creates a store.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	models     *embedder.ModelCache
	persistent *embedder.BoltCache
	open       storage.Opener
	readOpen   storage.Opener
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.location != "" {
		cfg.Store.Location = flags.location
	}
	if flags.collection != "" {
		cfg.Store.Collection = flags.collection
	}
	if flags.model != "" {
		cfg.Embed.Model = flags.model
	}
	if flags.backend != "" {
		cfg.Store.Backend = flags.backend
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Validate() {
		logger.Warn("config", zap.String("warning", w))
	}

	storeCfg := cfg.StorageConfig()
	open, err := storage.NewOpener(storeCfg)
	if err != nil {
		return nil, err
	}

	embCfg := cfg.EmbedderConfig()
	var persistent *embedder.BoltCache
	if cfg.Embed.CachePath != "" {
		persistent, err = embedder.OpenBoltCache(cfg.Embed.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open embedding cache: %w", err)
		}
		embCfg.Persistent = persistent
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		models:     embedder.NewModelCache(embedder.NewLoader(embCfg)),
		persistent: persistent,
		open:       open,
		readOpen:   storage.ReadOnly(storeCfg, open),
	}, nil
}

func (a *app) close() {
	if err := a.models.Close(); err != nil {
		a.logger.Warn("closing embedding models", zap.Error(err))
	}
	if a.persistent != nil {
		_ = a.persistent.Close()
	}
	_ = a.logger.Sync()
}

// pipeline assembles the stages. The generator is only built when asked for.
func (a *app) pipeline(ctx context.Context, withGenerator bool) (*pipeline.Pipeline, error) {
	ch, err := chunker.New(a.cfg.ChunkOptions(), a.logger.Named("chunker"))
	if err != nil {
		return nil, err
	}
	adapter := embedder.NewAdapter(a.models, a.cfg.Embed.BatchSize)

	p := &pipeline.Pipeline{
		Fetcher:   fetcher.NewClient(a.cfg.GitHub.Token, fetcher.WithLogger(a.logger.Named("fetcher"))),
		Chunker:   ch,
		Indexer:   indexer.New(adapter, a.open, a.logger.Named("indexer")),
		Retriever: retriever.New(adapter, a.readOpen, a.cfg.Retrieval.CacheSize, a.logger.Named("retriever")),
		Logger:    a.logger,
	}
	if withGenerator {
		gen, err := generation.New(ctx, a.cfg.GeneratorConfig(), generation.WithLogger(a.logger.Named("generation")))
		if err != nil {
			return nil, err
		}
		p.Generator = gen
	}
	return p, nil
}

func (a *app) indexOptions(dummy bool) indexer.Options {
	return indexer.Options{
		Location:   a.cfg.Store.Location,
		Collection: a.cfg.Store.Collection,
		ModelID:    a.cfg.Embed.Model,
		BatchSize:  a.cfg.Embed.BatchSize,
		Dummy:      dummy,
	}
}

func (a *app) retrievalRequest(query string, k int) retriever.Request {
	if k <= 0 {
		k = a.cfg.Retrieval.K
	}
	return retriever.Request{
		Location:   a.cfg.Store.Location,
		Collection: a.cfg.Store.Collection,
		Query:      query,
		ModelID:    a.cfg.Embed.Model,
		K:          k,
	}
}
