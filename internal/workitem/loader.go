package workitem

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/pkg/logger"
)

// LoadStats summarises one input read.
type LoadStats struct {
	Lines    int
	Loaded   int
	Skipped  int
	Comments int
}

// Load parses "identifier|secret" lines. Blank and "#" lines are ignored; malformed lines are
// skipped with a warning.
func Load(r io.Reader, log *logger.Logger) ([]domain.WorkItem, LoadStats, error) {
	if log == nil {
		log = logger.NewNop()
	}

	var (
		items []domain.WorkItem
		stats LoadStats
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		stats.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			stats.Comments++
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 2 {
			stats.Skipped++
			log.Warn("workitem: skipping malformed line", zap.Int("line", stats.Lines), zap.Int("fields", len(parts)))
			continue
		}
		identifier, secret := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if identifier == "" || secret == "" {
			stats.Skipped++
			log.Warn("workitem: skipping line with empty field", zap.Int("line", stats.Lines))
			continue
		}

		items = append(items, domain.WorkItem{Identifier: identifier, Secret: secret, Line: stats.Lines})
		stats.Loaded++
	}
	if err := scanner.Err(); err != nil {
		return items, stats, fmt.Errorf("workitem: read: %w", err)
	}

	return items, stats, nil
}

// LoadFile opens path and loads it.
func LoadFile(path string, log *logger.Logger) ([]domain.WorkItem, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("workitem: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, log)
}
