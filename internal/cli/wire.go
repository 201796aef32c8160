package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/menta2k/photo-album/internal/config"
	"github.com/menta2k/photo-album/pkg/detection"
	"github.com/menta2k/photo-album/pkg/ollama"
	"github.com/menta2k/photo-album/pkg/persist"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
)

// newSuggester builds the configured strategy. Every strategy falls back to
// a centered crop. The Model is returned separately when the ollama backend
// is selected so callers can read the raw detection.
func newSuggester(ctx context.Context, cfg *config.Config, backend string, proc *processing.Processor, logger *log.Logger) (suggest.Suggester, *suggest.Model, error) {
	switch backend {
	case config.SuggestNone:
		return suggest.Centered{}, nil, nil
	case config.SuggestSalient:
		return suggest.Chain{suggest.NewSalient(), suggest.Centered{}}, nil, nil
	case config.SuggestOllama:
		client, err := ollama.NewClient(cfg.Suggest.OllamaURL)
		if err != nil {
			return nil, nil, err
		}
		client.SetTimeout(cfg.Suggest.Timeout)

		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Heartbeat(hctx); err != nil {
			logger.Warn("ollama is not reachable, suggestions fall back to salient crops", "url", cfg.Suggest.OllamaURL, "err", err)
		}
		detector := detection.NewDetector(client, cfg.Suggest.Model)
		if cfg.Suggest.Prompt != "" {
			detector = detector.WithPrompt(cfg.Suggest.Prompt)
		}
		m := suggest.NewModel(detector, proc)
		m.Zoom = cfg.Suggest.Zoom
		return suggest.Chain{m, suggest.NewSalient(), suggest.Centered{}}, m, nil
	}
	return nil, nil, fmt.Errorf("unknown suggest backend %q (want none, salient or ollama)", backend)
}

// newStore opens the configured persistence backend. The returned close
// function is never nil.
func newStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (persist.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Persist.Backend {
	case config.PersistMemory:
		logger.Warn("album state is kept in memory and lost on exit")
		return persist.NewMemoryStore(), noop, nil
	case config.PersistFile:
		s, err := persist.NewFileStore(cfg.Persist.Dir)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("album state on disk", "dir", s.Path())
		return s, noop, nil
	case config.PersistRedis:
		r := cfg.Persist.Redis
		s, err := persist.NewRedisStore(ctx, persist.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
		})
		if err != nil {
			return nil, noop, err
		}
		logger.Info("album state in redis", "addr", r.Addr, "db", r.DB)
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown persist backend %q", cfg.Persist.Backend)
}
