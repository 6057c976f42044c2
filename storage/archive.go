package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// CycleArchiver dumps the raw records of each scrape cycle to a
// timestamped JSON file, one file per source per cycle. The files are an
// audit trail only; the pipeline never reads them back.
// It is safe for concurrent use.
type CycleArchiver struct {
	mu  sync.Mutex
	dir string
}

// NewCycleArchiver creates the results directory if needed.
func NewCycleArchiver(dir string) (*CycleArchiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create results dir: %w", err)
	}
	return &CycleArchiver{dir: dir}, nil
}

// WriteCycle writes the records fetched in one cycle. An empty cycle
// writes nothing.
func (a *CycleArchiver) WriteCycle(platform string, records []*models.RawRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := fmt.Sprintf("%s_results_%s.json", platform, time.Now().Format("20060102_150405"))
	path := filepath.Join(a.dir, name)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("archive: write %q: %w", path, err)
	}
	return path, nil
}
