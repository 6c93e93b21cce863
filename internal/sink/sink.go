package sink

import (
	"context"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// ResultSink receives one record per finished unit.
type ResultSink interface {
	Record(ctx context.Context, result domain.Result) error
	Close() error
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, domain.Result) error { return nil }
func (Discard) Close() error                                 { return nil }
