package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/PabloGalante/clevercompass/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/clevercompass/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/clevercompass/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/clevercompass/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/clevercompass/internal/app/conversation"
	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/config"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

// deps are the process-wide collaborators shared by every session.
type deps struct {
	svc     *conversation.Service
	encoder *attachment.Encoder
	closers []io.Closer
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	log := observability.Logger()

	tutor, err := newTutor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := &deps{
		encoder: attachment.NewEncoder(attachment.Options{
			MaxBytes:     cfg.MaxImageBytes,
			MaxDimension: cfg.MaxImageDimension,
		}),
	}

	var turns domain.TurnLog
	switch cfg.TurnLogBackend {
	case "firestore":
		log.Info("using firestore turn log", "project", cfg.GCPProjectID)
		fs, err := firestorestore.NewTurnLog(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("initializing firestore turn log: %w", err)
		}
		turns = fs
		d.closers = append(d.closers, fs)
	case "sqlite":
		log.Info("using sqlite turn log", "path", cfg.SQLitePath)
		sl, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite turn log: %w", err)
		}
		turns = sl
		d.closers = append(d.closers, sl)
	default:
		log.Info("using in-memory turn log")
		turns = memstore.NewTurnLog()
	}

	d.svc = conversation.NewService(tutor, d.encoder, turns, conversation.ServiceConfig{
		RequestTimeout: cfg.RequestTimeout,
		IdleTimeout:    cfg.SessionIdleTimeout,
		MaxSessions:    cfg.MaxSessions,
	})
	return d, nil
}

func newTutor(ctx context.Context, cfg *config.Config) (domain.Tutor, error) {
	log := observability.Logger()

	if cfg.UseMockLLM {
		log.Info("using mock tutor")
		return llm.NewMockTutor(), nil
	}

	backend := llm.BackendGemini
	if cfg.Mode == config.ModeVertex {
		backend = llm.BackendVertex
	}
	log.Info("using gemini tutor", "backend", backend, "model", cfg.ModelName)

	tutor, err := llm.NewGeminiTutor(ctx, llm.GeminiConfig{
		Backend:  backend,
		APIKey:   cfg.APIKey,
		Project:  cfg.GCPProjectID,
		Location: cfg.GCPLocation,
		Model:    cfg.ModelName,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing gemini tutor: %w", err)
	}
	return tutor, nil
}

// Close waits for pending replies, then releases the turn log.
func (d *deps) Close() error {
	d.svc.Shutdown()

	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
