// Package mutes persists each client's muted-sender set as one flat text file
// per display name, one muted client id per line.
package mutes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Store reads and writes mute lists under a fixed directory.
// Single writer per display name; no cross-process guarantees.
type Store struct {
	dir string
	log *zerolog.Logger
}

// NewStore builds a store rooted at dir.
func NewStore(dir string, logger *zerolog.Logger) *Store {
	return &Store{dir: dir, log: logger}
}

// Load returns the muted id set for the given display name.
// A missing file is not an error and yields an empty set.
// Non-positive ids and unparseable lines are skipped.
func (s *Store) Load(displayName string) (map[int64]struct{}, error) {
	muted := make(map[int64]struct{})

	data, err := os.ReadFile(s.path(displayName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return muted, nil
		}
		return nil, fmt.Errorf("read mute file for %s: %w", displayName, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, parseErr := strconv.ParseInt(line, 10, 64)
		if parseErr != nil {
			s.log.Warn().Str("name", displayName).Str("line", line).Msg("skipping bad mute entry")
			continue
		}
		if id <= 0 {
			// Guards against stale self-mute entries written before id assignment.
			continue
		}
		muted[id] = struct{}{}
	}
	return muted, nil
}

// Save rewrites the record for the given display name with the full set.
func (s *Store) Save(displayName string, muted map[int64]struct{}) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create mutes dir: %w", err)
	}

	ids := lo.Keys(muted)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := lo.Map(ids, func(id int64, _ int) string {
		return strconv.FormatInt(id, 10)
	})

	var body string
	if len(lines) > 0 {
		body = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(s.path(displayName), []byte(body), 0o644); err != nil {
		return fmt.Errorf("write mute file for %s: %w", displayName, err)
	}
	return nil
}

func (s *Store) path(displayName string) string {
	return filepath.Join(s.dir, displayName+".txt")
}
