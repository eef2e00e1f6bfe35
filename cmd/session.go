package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/urtextpiano-dev/urtext-sub005/analysis"
	"github.com/urtextpiano-dev/urtext-sub005/config"
	"github.com/urtextpiano-dev/urtext-sub005/evaluate"
	"github.com/urtextpiano-dev/urtext-sub005/highlight"
	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/practice"
	"github.com/urtextpiano-dev/urtext-sub005/scheduler"
	"github.com/urtextpiano-dev/urtext-sub005/score"
	"github.com/urtextpiano-dev/urtext-sub005/settings"
	"github.com/urtextpiano-dev/urtext-sub005/store"
	"github.com/urtextpiano-dev/urtext-sub005/tempo"
	"github.com/urtextpiano-dev/urtext-sub005/timeline"
)

// Session wires every service of one practice run. It owns their lifecycle:
// the scheduler session starts in NewSession and everything is released by
// Close.
type Session struct {
	Logger     *slog.Logger
	Graph      *score.Graph
	Timeline   *timeline.Timeline
	Analyzer   *analysis.Analyzer
	Tempo      *tempo.Resolver
	Scheduler  *scheduler.Scheduler
	Evaluator  *evaluate.Provider
	Cursor     *score.GraphCursor
	Settings   settings.Provider
	Highlights *highlight.Recorder
	Machine    *practice.Machine

	closers []func() error
}

func NewSession(cfg *config.Config, g *score.Graph, logger *slog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrDiscard(logger)
	s := &Session{Logger: logger, Graph: g}

	s.Timeline = timeline.New(logger)
	s.Timeline.Build(g)
	if !s.Timeline.CanHandleScore() {
		return nil, errors.New("score has no playable measures")
	}

	s.Analyzer = analysis.NewAnalyzer(logger)
	s.Analyzer.Preload(g)

	slot, closeSlot, err := openOverrideStore(cfg.Tempo)
	if err != nil {
		logger.Warn("tempo: override store unavailable, using memory", "backend", cfg.Tempo.OverrideBackend, "err", err)
		slot, closeSlot = store.NewMemory(), nil
	}
	if closeSlot != nil {
		s.closers = append(s.closers, closeSlot)
	}
	s.Tempo = tempo.NewResolver(
		tempo.WithOverrideStore(slot),
		tempo.WithContextProvider(s.Analyzer),
		tempo.WithTempoEvents(tempo.Extract(g)),
		tempo.WithLogger(logger),
	)

	s.Settings = openSettings(cfg, logger, &s.closers)

	s.Scheduler = scheduler.New(scheduler.WithLogger(logger), scheduler.WithSpinLead(cfg.Scheduler.SpinLead()))
	s.Scheduler.StartSession()
	s.closers = append(s.closers, func() error {
		s.Scheduler.Close()
		return nil
	})

	s.Evaluator = evaluate.NewProvider(g, logger)
	s.Highlights = highlight.NewRecorder(128)
	s.Cursor = score.NewGraphCursor(g, func(pos int) {
		logger.Debug("cursor: moved", "measure", pos)
	})

	s.Machine, err = practice.New(practice.Services{
		Timeline:    s.Timeline,
		Tempo:       s.Tempo,
		Scheduler:   s.Scheduler,
		Evaluator:   s.Evaluator,
		Cursor:      s.Cursor,
		Settings:    s.Settings,
		Highlighter: highlight.Multi{s.Highlights, highlight.NewLogSink(logger)},
	}, practice.WithLogger(logger))
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openSettings(cfg *config.Config, logger *slog.Logger, closers *[]func() error) settings.Provider {
	path := cfg.SettingsPath(configPath)
	if path == "" {
		return settings.Static(model.DefaultDifficultySettings())
	}
	w, err := settings.NewWatcher(path, logger)
	if err != nil {
		logger.Warn("settings: could not load difficulty settings, using defaults", "path", path, "err", err)
		return settings.Static(model.DefaultDifficultySettings())
	}
	*closers = append(*closers, w.Close)
	if cfg.Difficulty.Watch {
		if err := w.Watch(); err != nil {
			logger.Warn("settings: not watching for changes", "path", path, "err", err)
		}
	}
	return w
}

func openOverrideStore(cfg config.TempoConfig) (store.Slot, func() error, error) {
	switch cfg.OverrideBackend {
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.BackendDynamoDB:
		d, err := store.NewDynamo(store.DynamoConfig{
			Endpoint: cfg.DynamoEndpoint,
			Region:   cfg.DynamoRegion,
			Table:    cfg.DynamoTable,
			Key:      cfg.DynamoKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	case config.BackendMemory, "":
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown override backend %q", cfg.OverrideBackend)
	}
}

// Close tears the session down in reverse order of construction.
func (s *Session) Close() error {
	if s.Machine != nil {
		s.Machine.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
