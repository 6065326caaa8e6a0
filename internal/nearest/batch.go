package nearest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/raster"
)

// ErrorPolicy decides what a batch does when a row cannot be searched.
type ErrorPolicy string

const (
	// OnErrorAbort fails the whole batch on the first row error.
	OnErrorAbort ErrorPolicy = "abort"
	// OnErrorMark records the row as failed and continues.
	OnErrorMark ErrorPolicy = "mark"
)

// ParseErrorPolicy converts a configuration string to an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(s); p {
	case OnErrorAbort, OnErrorMark:
		return p, nil
	case "":
		return OnErrorAbort, nil
	default:
		return "", eris.Wrapf(ErrInvalidConfiguration, "nearest: unknown error policy %q", s)
	}
}

// RowFilter selects the rows that need a search. Rows it rejects pass
// through with blank neighbor columns.
type RowFilter func(row int, loc model.Location) bool

// InBounds selects rows whose (longitude, latitude) lies inside b.
func InBounds(b crs.Bounds) RowFilter {
	return func(_ int, loc model.Location) bool {
		return b.Contains(loc.Longitude, loc.Latitude)
	}
}

// RowOutcome is the result of one input row.
type RowOutcome struct {
	Row      int             `json:"row"`
	Location model.Location  `json:"location"`
	Result   *NeighborResult `json:"result,omitempty"`
	Status   model.RowStatus `json:"status"`
	Err      error           `json:"-"`
}

// Batch runs a search for every row of a table.
type Batch struct {
	Finder      *Finder
	Config      SearchConfig
	Concurrency int
	OnError     ErrorPolicy
	Filter      RowFilter
}

// Run searches every selected location. Outcomes are returned in input
// order whatever order rows complete in. With OnErrorAbort the first row
// error is returned and the outcomes are discarded.
func (b *Batch) Run(ctx context.Context, locs []model.Location) ([]RowOutcome, model.RunCounts, error) {
	var counts model.RunCounts
	if err := b.Finder.CheckConfig(b.Config); err != nil {
		return nil, counts, err
	}
	policy, err := ParseErrorPolicy(string(b.OnError))
	if err != nil {
		return nil, counts, err
	}

	limit := b.Concurrency
	if limit < 1 {
		limit = 1
	}

	outcomes := make([]RowOutcome, len(locs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, loc := range locs {
		outcomes[i] = RowOutcome{Row: i, Location: loc}
		if b.Filter != nil && !b.Filter(i, loc) {
			outcomes[i].Status = model.RowStatusSkipped
			continue
		}

		g.Go(func() error {
			res, err := b.Finder.FindNeighbors(gCtx, loc, b.Config)
			if err != nil {
				if policy == OnErrorAbort || !IsRowError(err) {
					return eris.Wrapf(err, "nearest: row %d (%s)", i+1, loc.ID)
				}
				zap.L().Error("nearest: row failed",
					zap.Int("row", i+1),
					zap.String("id", loc.ID),
					zap.String("name", loc.Name),
					zap.Error(err),
				)
				outcomes[i].Status = model.RowStatusError
				outcomes[i].Err = err
				return nil
			}

			outcomes[i].Result = res
			outcomes[i].Status = res.Status()
			zap.L().Info("nearest: row done",
				zap.Int("row", i+1),
				zap.String("id", loc.ID),
				zap.String("name", loc.Name),
				zap.String("status", string(outcomes[i].Status)),
				zap.Int("found", res.Found()),
				zap.Int("candidates", res.Candidates),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, counts, err
	}

	for _, o := range outcomes {
		counts.Add(o.Status)
	}
	zap.L().Info("nearest: batch complete",
		zap.Int("total", counts.Total),
		zap.Int("ok", counts.OK),
		zap.Int("partial", counts.Partial),
		zap.Int("empty", counts.Empty),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
	)
	return outcomes, counts, nil
}

// IsRowError reports whether err is a per-row failure that OnErrorMark
// would record rather than propagate.
func IsRowError(err error) bool {
	return errors.Is(err, raster.ErrRasterRead) || errors.Is(err, crs.ErrReprojection)
}
