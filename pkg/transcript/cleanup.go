package transcript

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxIdleAge = 7 * 24 * time.Hour // 7 days
	DefaultMaxTurns   = 500
)

// Cleanup prunes and expires transcripts. Scheduling is owned by the
// maintenance service; callers invoke Sweep on their own cadence.
type Cleanup struct {
	store      *Store
	maxIdleAge time.Duration
	maxTurns   int
}

// NewCleanup creates a transcript cleanup handler
func NewCleanup(store *Store, maxIdleAge time.Duration) *Cleanup {
	if maxIdleAge == 0 {
		maxIdleAge = DefaultMaxIdleAge
	}

	return &Cleanup{
		store:      store,
		maxIdleAge: maxIdleAge,
		maxTurns:   DefaultMaxTurns,
	}
}

// Sweep prunes oversized transcripts and deletes transcripts idle
// longer than maxIdleAge.
func (c *Cleanup) Sweep() error {
	tokens, err := c.store.List()
	if err != nil {
		return fmt.Errorf("failed to list transcripts: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, token := range tokens {
		if err := c.pruneTranscript(token); err != nil {
			log.Warn().
				Str("session_token", token).
				Err(err).
				Msg("Failed to prune transcript")
		}

		info, err := c.store.Info(token)
		if err != nil {
			log.Warn().
				Str("session_token", token).
				Err(err).
				Msg("Failed to get transcript info")
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		age := now.Sub(lastModified)
		if age >= c.maxIdleAge {
			if err := c.store.Delete(token); err != nil {
				log.Error().
					Str("session_token", token).
					Err(err).
					Msg("Failed to delete transcript")
				continue
			}
			deleted++

			log.Debug().
				Str("session_token", token).
				Dur("age", age).
				Msg("Idle transcript deleted")
		}
	}

	if deleted > 0 {
		log.Info().
			Int("deleted", deleted).
			Msg("Cleaned up idle transcripts")
	}

	return nil
}

func (c *Cleanup) pruneTranscript(token string) error {
	if c.maxTurns <= 0 {
		return nil
	}

	entries, err := c.store.Load(token)
	if err != nil {
		return err
	}

	if len(entries) <= c.maxTurns {
		return nil
	}

	pruned := entries[len(entries)-c.maxTurns:]
	if err := c.store.Replace(token, pruned); err != nil {
		return err
	}

	log.Debug().
		Str("session_token", token).
		Int("from_turns", len(entries)).
		Int("to_turns", len(pruned)).
		Msg("Transcript pruned")

	return nil
}

// GetMaxIdleAge returns the idle age after which transcripts are deleted.
func (c *Cleanup) GetMaxIdleAge() time.Duration {
	return c.maxIdleAge
}

// SetMaxIdleAge sets the idle age after which transcripts are deleted.
func (c *Cleanup) SetMaxIdleAge(age time.Duration) {
	c.maxIdleAge = age
	log.Info().Dur("max_idle_age", age).Msg("Transcript idle age updated")
}

// GetMaxTurns returns max turns retained per transcript after pruning.
func (c *Cleanup) GetMaxTurns() int {
	return c.maxTurns
}

// SetMaxTurns sets max turns retained per transcript after pruning.
func (c *Cleanup) SetMaxTurns(maxTurns int) {
	c.maxTurns = maxTurns
	log.Info().Int("max_turns", maxTurns).Msg("Transcript pruning max turns updated")
}

// Stats returns cleanup statistics
func (c *Cleanup) Stats() (map[string]interface{}, error) {
	tokens, err := c.store.List()
	if err != nil {
		return nil, err
	}

	eligible := 0
	now := time.Now()

	for _, token := range tokens {
		info, err := c.store.Info(token)
		if err != nil {
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		if now.Sub(lastModified) >= c.maxIdleAge {
			eligible++
		}
	}

	return map[string]interface{}{
		"total_transcripts":    len(tokens),
		"eligible_for_cleanup": eligible,
		"max_idle_age":         c.maxIdleAge.String(),
		"max_turns":            c.maxTurns,
	}, nil
}
