package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/nearest"
	"github.com/placekit/placekit/internal/store"
)

// initStore opens and migrates the run ledger. It returns nil when no
// ledger is configured.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// requireStore is initStore for commands that only read the ledger.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no run ledger configured (set store.path or PLACEKIT_STORE_PATH)")
	}
	return st, nil
}

// runRows converts batch outcomes to ledger rows.
func runRows(outcomes []nearest.RowOutcome) []model.RunRow {
	rows := make([]model.RunRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = model.RunRow{
			Row:    o.Row + 1,
			ID:     o.Location.ID,
			Name:   o.Location.Name,
			Status: o.Status,
		}
		if o.Result != nil {
			rows[i].Found = o.Result.Found()
		}
		if o.Err != nil {
			rows[i].Error = o.Err.Error()
		}
	}
	return rows
}

// ledger records one command invocation. A nil ledger records nothing.
type ledger struct {
	st  store.Store
	run *model.Run
}

func startRun(ctx context.Context, st store.Store, r store.NewRun) *ledger {
	if st == nil {
		return &ledger{}
	}
	run, err := st.CreateRun(ctx, r)
	if err != nil {
		zap.L().Warn("store: could not record run", zap.Error(err))
		return &ledger{}
	}
	return &ledger{st: st, run: run}
}

func (l *ledger) finish(ctx context.Context, rows []model.RunRow, counts model.RunCounts, runErr error) {
	if l.run == nil {
		return
	}
	if len(rows) > 0 {
		if err := l.st.RecordRows(ctx, l.run.ID, rows); err != nil {
			zap.L().Warn("store: could not record rows", zap.String("run_id", l.run.ID), zap.Error(err))
		}
	}
	if err := l.st.CompleteRun(ctx, l.run.ID, counts, runErr); err != nil {
		zap.L().Warn("store: could not complete run", zap.String("run_id", l.run.ID), zap.Error(err))
		return
	}
	zap.L().Info("store: run recorded", zap.String("run_id", l.run.ID))
}
