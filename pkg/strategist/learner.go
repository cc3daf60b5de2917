package strategist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nandika/steward/internal/observability"
	"github.com/rs/zerolog/log"
)

// Learner owns the append-only strategy log and the similarity lookup
// over past outcomes. Records are never mutated after append.
type Learner struct {
	path    string
	records []StrategyRecord
	mu      sync.RWMutex
}

// NewLearner opens the strategy log at path, loading existing records.
// Corrupt lines are skipped, not fatal.
func NewLearner(path string) (*Learner, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, fmt.Errorf("strategy log path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Learner{path: path}
	if err := l.load(); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("records", len(l.records)).
		Msg("Strategy log loaded")
	observability.SetStrategyLogSize(len(l.records))

	return l, nil
}

func (l *Learner) load() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open strategy log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var record StrategyRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			log.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Skipping corrupt strategy log line")
			continue
		}
		l.records = append(l.records, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read strategy log: %w", err)
	}
	return nil
}

// Append writes one record to the log. Entries land in completion
// order: whoever calls Append first is first in the log.
func (l *Learner) Append(record StrategyRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open strategy log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write strategy record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync strategy log: %w", err)
	}

	l.records = append(l.records, record)
	observability.SetStrategyLogSize(len(l.records))

	log.Debug().
		Str("approach", record.Strategy.Approach).
		Bool("successful", record.Success.Successful).
		Msg("Strategy record appended")

	return nil
}

// Records returns a copy of the log in insertion order
func (l *Learner) Records() []StrategyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]StrategyRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Size returns the number of records
func (l *Learner) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// tokenize lower-cases and whitespace-splits text into a distinct token set
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tokens[tok] = true
	}
	return tokens
}

// overlap counts distinct shared tokens between two token sets
func overlap(a, b map[string]bool) int {
	count := 0
	for tok := range a {
		if b[tok] {
			count++
		}
	}
	return count
}

// SimilarSuccesses returns past successful records whose task text
// shares more than one distinct case-insensitive whitespace token with
// task. A single shared token is not enough to transfer experience.
func (l *Learner) SimilarSuccesses(task string) []StrategyRecord {
	taskTokens := tokenize(task)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var similar []StrategyRecord
	for _, record := range l.records {
		if !record.Success.Successful {
			continue
		}
		if overlap(taskTokens, tokenize(record.Task)) > 1 {
			similar = append(similar, record)
		}
	}
	return similar
}

// Hint summarizes prior experience for a task: the most frequent
// approach among similar successes (ties broken by first appearance in
// the log) and the full frequency table. hasPrior is false when the
// similarity set is empty.
func (l *Learner) Hint(task string) (approach string, frequencies map[string]int, hasPrior bool) {
	similar := l.SimilarSuccesses(task)
	if len(similar) == 0 {
		return "", nil, false
	}

	frequencies = make(map[string]int)
	var firstSeen []string
	for _, record := range similar {
		a := record.Strategy.Approach
		if _, seen := frequencies[a]; !seen {
			firstSeen = append(firstSeen, a)
		}
		frequencies[a]++
	}

	best := firstSeen[0]
	for _, a := range firstSeen[1:] {
		if frequencies[a] > frequencies[best] {
			best = a
		}
	}
	return best, frequencies, true
}

// BestRole returns the most frequent role among similar successes using
// the same first-seen tie-break as Hint.
func (l *Learner) BestRole(task string) (string, bool) {
	similar := l.SimilarSuccesses(task)
	if len(similar) == 0 {
		return "", false
	}

	frequencies := make(map[string]int)
	var firstSeen []string
	for _, record := range similar {
		if len(record.Strategy.Roles) == 0 {
			continue
		}
		r := record.Strategy.Roles[0]
		if _, seen := frequencies[r]; !seen {
			firstSeen = append(firstSeen, r)
		}
		frequencies[r]++
	}
	if len(firstSeen) == 0 {
		return "", false
	}

	best := firstSeen[0]
	for _, r := range firstSeen[1:] {
		if frequencies[r] > frequencies[best] {
			best = r
		}
	}
	return best, true
}
