package eventconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// FileSource reads a JSON array of event configurations from disk on every
// fetch. Used for local runs and tests.
type FileSource struct {
	path string
}

var _ ports.EventConfigSource = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Fetch(_ context.Context, _ string) ([]domain.EventConfig, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read event configs: %w", err)
	}
	var configs []domain.EventConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("decode event configs %s: %w", s.path, err)
	}
	return configs, nil
}
