package sink

import (
	"context"
	"errors"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// Multi fans a record out to every sink. A failing sink does not stop the others.
type Multi []ResultSink

func (m Multi) Record(ctx context.Context, res domain.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
