package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// Header is the first row of every results file.
var Header = []string{"CardNumber", "ZipCode", "DetectedBalance", "CallStatus", "FailureReason", "TranscriptionLog"}

// CSV writes one row per result and flushes after every row so a crashed batch keeps what it finished.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes the header to w.
func NewCSV(w io.Writer) (*CSV, error) {
	s := &CSV{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.write(Header); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateCSV truncates or creates path and writes the header.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv sink: create %s: %w", path, err)
	}
	s, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Row renders res in Header order.
func Row(res domain.Result) []string {
	return []string{
		res.Identifier,
		res.Secret,
		res.Balance,
		string(res.Status),
		res.FailureReason,
		res.TranscriptText(),
	}
}

func (s *CSV) Record(_ context.Context, res domain.Result) error {
	return s.write(Row(res))
}

func (s *CSV) write(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("csv sink: write: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("csv sink: flush: %w", err)
	}
	return nil
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
