package labels

import (
	"context"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// OperationRecorder receives one observation per store call
type OperationRecorder interface {
	RecordLabelOperation(operation, status string)
}

// Instrumented decorates a Store with metrics and debug logging.
type Instrumented struct {
	Store
	recorder OperationRecorder
	log      logger.Logger
}

// NewInstrumented wraps store; a nil recorder only logs.
func NewInstrumented(store Store, recorder OperationRecorder) *Instrumented {
	return &Instrumented{Store: store, recorder: recorder, log: GetLogger()}
}

// status maps an error to a low-cardinality metric label
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsCategory(err, errors.CategoryConflict):
		return "conflict"
	case errors.IsCategory(err, errors.CategoryNotFound):
		return "not_found"
	case errors.IsCategory(err, errors.CategoryCoordinate):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Instrumented) record(op string, err error) {
	st := status(err)
	if s.recorder != nil {
		s.recorder.RecordLabelOperation(op, st)
	}
	if err != nil && st == "error" {
		s.log.Error("label store operation failed", logger.String("operation", op), logger.Error(err))
	}
}

func (s *Instrumented) Put(ctx context.Context, label Label) (Label, error) {
	out, err := s.Store.Put(ctx, label)
	s.record("put", err)
	if err == nil {
		s.log.Debug("label stored",
			logger.String("id", out.ID),
			logger.String("tile", out.Tile.String()),
			logger.Bool("negative", out.IsNegative))
	}
	return out, err
}

func (s *Instrumented) Get(ctx context.Context, addr tiles.TileAddress) ([]Label, error) {
	out, err := s.Store.Get(ctx, addr)
	s.record("get", err)
	return out, err
}

func (s *Instrumented) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	s.record("delete", err)
	return err
}

func (s *Instrumented) ListAll(ctx context.Context) ([]Label, error) {
	out, err := s.Store.ListAll(ctx)
	s.record("list", err)
	return out, err
}

func (s *Instrumented) Update(ctx context.Context, id string, update LabelUpdate) (Label, error) {
	out, err := s.Store.Update(ctx, id, update)
	s.record("update", err)
	return out, err
}

func (s *Instrumented) DeleteTile(ctx context.Context, addr tiles.TileAddress) (int, error) {
	n, err := s.Store.DeleteTile(ctx, addr)
	s.record("delete_tile", err)
	return n, err
}
