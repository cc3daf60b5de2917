package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nandika/steward/internal/observability"
	"github.com/nandika/steward/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Turn represents a single conversation turn
type Turn struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry represents a turn tagged with its session token
type Entry struct {
	Token string `json:"token"`
	Turn  Turn   `json:"turn"`
}

// Store persists per-token conversation transcripts using JSONL format.
// Each session token owns one transcript file; the token is the only
// handle the rest of the system uses to resume a conversation.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewStore creates a Store rooted at dir
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".steward", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Transcript store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// validateToken validates the session token for filesystem safety
func (s *Store) validateToken(token string) error {
	if token == "" {
		return fmt.Errorf("session token cannot be empty")
	}
	if strings.Contains(token, "..") {
		return fmt.Errorf("session token cannot contain '..'")
	}
	if strings.ContainsAny(token, "/\\") {
		return fmt.Errorf("session token cannot contain path separators")
	}
	if strings.Contains(token, "\x00") {
		return fmt.Errorf("session token cannot contain null bytes")
	}
	return nil
}

// path returns the file path for a token's transcript
func (s *Store) path(token string) string {
	return filepath.Join(s.dir, token+".jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	tokens, err := s.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(tokens))
}

// getWriteLock gets or creates a write lock for a token
func (s *Store) getWriteLock(token string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[token]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[token] = lock
	return lock
}

// releaseWriteLock releases a write lock for a token
func (s *Store) releaseWriteLock(token string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, token)
}

// Exists reports whether a transcript exists for the token
func (s *Store) Exists(token string) bool {
	if err := s.validateToken(token); err != nil {
		return false
	}
	_, err := os.Stat(s.path(token))
	return err == nil
}

// Create creates a new empty transcript for the token
func (s *Store) Create(token string) error {
	return s.CreateWithContext(context.Background(), token)
}

// CreateWithContext creates a new empty transcript with tracing context.
func (s *Store) CreateWithContext(ctx context.Context, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.transcript",
		"transcript.create",
		attribute.String("session_token", token),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_token", token).Logger()

	if err := s.validateToken(token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	transcriptPath := s.path(token)

	if _, err := os.Stat(transcriptPath); err == nil {
		logger.Debug().Msg("Transcript already exists")
		return nil
	}

	file, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create transcript file: %w", err)
	}
	file.Close()

	s.updateActiveSessionsMetric()
	logger.Info().Msg("Transcript created")

	return nil
}

// Append appends a turn to a transcript
func (s *Store) Append(token string, turn Turn) error {
	return s.AppendWithContext(context.Background(), token, turn)
}

// AppendWithContext appends a turn to a transcript with tracing context.
func (s *Store) AppendWithContext(ctx context.Context, token string, turn Turn) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.transcript",
		"transcript.append",
		attribute.String("session_token", token),
		attribute.String("role", turn.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_token", token).Logger()
	start := time.Now()
	defer func() {
		observability.RecordTranscriptSave(time.Since(start))
	}()

	if err := s.validateToken(token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := s.getWriteLock(token)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(token)

	if _, err := os.Stat(transcriptPath); os.IsNotExist(err) {
		if err := s.CreateWithContext(ctx, token); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	file, err := os.OpenFile(transcriptPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	entry := Entry{
		Token: token,
		Turn:  turn,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}

	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().
		Str("role", turn.Role).
		Msg("Turn appended")

	return nil
}

// Load loads all turns from a transcript
func (s *Store) Load(token string) ([]Entry, error) {
	return s.LoadWithContext(context.Background(), token)
}

// LoadWithContext loads all turns from a transcript with tracing context.
func (s *Store) LoadWithContext(ctx context.Context, token string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.transcript",
		"transcript.load",
		attribute.String("session_token", token),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_token", token).Logger()
	start := time.Now()
	defer func() {
		observability.RecordTranscriptLoad(time.Since(start))
	}()

	if err := s.validateToken(token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	transcriptPath := s.path(token)

	if _, err := os.Stat(transcriptPath); os.IsNotExist(err) {
		logger.Debug().Msg("Transcript does not exist")
		return []Entry{}, nil
	}

	file, err := os.Open(transcriptPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if entry.Turn.Role == "" || entry.Turn.Content == "" {
			logger.Warn().
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	logger.Debug().
		Int("turns", len(entries)).
		Msg("Transcript loaded")

	return entries, nil
}

// Replace atomically rewrites a transcript with the given entries
func (s *Store) Replace(token string, entries []Entry) error {
	if err := s.validateToken(token); err != nil {
		return err
	}

	lock := s.getWriteLock(token)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(token)
	tempPath := transcriptPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	if err := os.Rename(tempPath, transcriptPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript file: %w", err)
	}

	log.Debug().
		Str("session_token", token).
		Int("entries", len(entries)).
		Msg("Transcript replaced")

	return nil
}

// Delete deletes a transcript
func (s *Store) Delete(token string) error {
	return s.DeleteWithContext(context.Background(), token)
}

// DeleteWithContext deletes a transcript with tracing context.
func (s *Store) DeleteWithContext(ctx context.Context, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"steward.transcript",
		"transcript.delete",
		attribute.String("session_token", token),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_token", token).Logger()

	if err := s.validateToken(token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Wait for any in-progress writes
	lock := s.getWriteLock(token)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(token)

	if err := os.Remove(transcriptPath); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete transcript file: %w", err)
	}

	s.releaseWriteLock(token)
	s.updateActiveSessionsMetric()

	logger.Info().Msg("Transcript deleted")

	return nil
}

// Copy duplicates the source transcript under a new token. Forking an
// agent instance uses this so the fork resumes with the source's full
// history under its own token.
func (s *Store) Copy(srcToken, dstToken string) error {
	if err := s.validateToken(srcToken); err != nil {
		return err
	}
	if err := s.validateToken(dstToken); err != nil {
		return err
	}
	if srcToken == dstToken {
		return fmt.Errorf("destination token must differ from source token")
	}

	entries, err := s.Load(srcToken)
	if err != nil {
		return err
	}

	retagged := make([]Entry, len(entries))
	for i, entry := range entries {
		retagged[i] = Entry{Token: dstToken, Turn: entry.Turn}
	}

	if err := s.Replace(dstToken, retagged); err != nil {
		return err
	}

	s.updateActiveSessionsMetric()

	log.Info().
		Str("source_token", srcToken).
		Str("dest_token", dstToken).
		Int("turns", len(retagged)).
		Msg("Transcript copied")

	return nil
}

// List lists all tokens with a stored transcript
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcripts directory: %w", err)
	}

	var tokens []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		tokens = append(tokens, strings.TrimSuffix(name, ".jsonl"))
	}

	return tokens, nil
}

// Repair rewrites a transcript keeping only parseable entries
func (s *Store) Repair(token string) error {
	if err := s.validateToken(token); err != nil {
		return err
	}

	// Load skips corrupted lines
	entries, err := s.Load(token)
	if err != nil {
		return err
	}

	if err := s.Replace(token, entries); err != nil {
		return err
	}

	log.Info().
		Str("session_token", token).
		Int("entries", len(entries)).
		Msg("Transcript repaired")

	return nil
}

// Info returns metadata about a transcript
func (s *Store) Info(token string) (map[string]interface{}, error) {
	if err := s.validateToken(token); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.path(token))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("transcript does not exist")
		}
		return nil, fmt.Errorf("failed to stat transcript file: %w", err)
	}

	entries, err := s.Load(token)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"token":        token,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"turnCount":    len(entries),
	}, nil
}

// Close closes the store
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("Transcript store closed")

	return nil
}
