// Package registry is the in-memory store of connection and staging
// references. Database and warehouse connectivity themselves are external
// collaborators; the registry only resolves the references a job descriptor
// names, and keeps credentials encrypted until a launch needs them.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
	"github.com/snowmigrate/snowmigrate-api/internal/utils"
)

var ErrNotFound = errors.New("registry: not found")

type sourceEntry struct {
	conn   models.SourceConnection
	secret []byte
}

type targetEntry struct {
	conn   models.SnowflakeConnection
	secret []byte
}

// Store holds sources, targets, and staging areas for the process lifetime.
type Store struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sources  map[string]sourceEntry
	targets  map[string]targetEntry
	stagings map[string]models.StagingArea
}

func NewStore(logger zerolog.Logger) *Store {
	stagings := make(map[string]models.StagingArea)
	for _, s := range models.DefaultStagingAreas() {
		stagings[s.ID] = s
	}
	return &Store{
		logger:   logger.With().Str("component", "registry").Logger(),
		sources:  make(map[string]sourceEntry),
		targets:  make(map[string]targetEntry),
		stagings: stagings,
	}
}

// AddSource stores a source connection, sealing its password. The returned
// copy never carries the plaintext.
func (s *Store) AddSource(conn models.SourceConnection) (models.SourceConnection, error) {
	secret, err := utils.EncryptSecret(conn.Password)
	if err != nil {
		return models.SourceConnection{}, errors.Wrap(err, "seal source password")
	}
	conn.ID = uuid.NewString()
	conn.Password = ""
	conn.Status = models.ConnUnknown
	conn.CreatedAt = time.Now()

	s.mu.Lock()
	s.sources[conn.ID] = sourceEntry{conn: conn, secret: secret}
	s.mu.Unlock()
	s.logger.Info().Str("connection_id", conn.ID).Str("name", conn.Name).Msg("source connection registered")
	return conn, nil
}

func (s *Store) GetSource(id string) (models.SourceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sources[id]
	if !ok {
		return models.SourceConnection{}, ErrNotFound
	}
	return e.conn, nil
}

func (s *Store) ListSources() []models.SourceConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SourceConnection, 0, len(s.sources))
	for _, e := range s.sources {
		out = append(out, e.conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) DeleteSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

// AddTarget stores a Snowflake target connection, sealing its password.
func (s *Store) AddTarget(conn models.SnowflakeConnection) (models.SnowflakeConnection, error) {
	secret, err := utils.EncryptSecret(conn.Password)
	if err != nil {
		return models.SnowflakeConnection{}, errors.Wrap(err, "seal target password")
	}
	conn.ID = uuid.NewString()
	conn.Password = ""
	conn.Status = models.ConnUnknown
	conn.CreatedAt = time.Now()
	if conn.SchemaName == "" {
		conn.SchemaName = "PUBLIC"
	}

	s.mu.Lock()
	s.targets[conn.ID] = targetEntry{conn: conn, secret: secret}
	s.mu.Unlock()
	s.logger.Info().Str("connection_id", conn.ID).Str("name", conn.Name).Msg("target connection registered")
	return conn, nil
}

func (s *Store) GetTarget(id string) (models.SnowflakeConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.targets[id]
	if !ok {
		return models.SnowflakeConnection{}, ErrNotFound
	}
	return e.conn, nil
}

func (s *Store) ListTargets() []models.SnowflakeConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SnowflakeConnection, 0, len(s.targets))
	for _, e := range s.targets {
		out = append(out, e.conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) DeleteTarget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return ErrNotFound
	}
	delete(s.targets, id)
	return nil
}

// ListStagingAreas returns the configured staging areas.
func (s *Store) ListStagingAreas() []models.StagingArea {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StagingArea, 0, len(s.stagings))
	for _, a := range s.stagings {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStagingArea resolves one staging reference.
func (s *Store) GetStagingArea(id string) (models.StagingArea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.stagings[id]
	if !ok {
		return models.StagingArea{}, ErrNotFound
	}
	return a, nil
}

// Resolve looks up everything a descriptor references and opens the sealed
// credentials. It backs the orchestrator's spec builder, so failures here
// surface as launch errors.
func (s *Store) Resolve(desc models.JobDescriptor) (models.SourceConnection, models.SnowflakeConnection, supervisor.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[desc.SourceConnectionID]
	if !ok {
		return models.SourceConnection{}, models.SnowflakeConnection{}, supervisor.Credentials{}, errors.Wrapf(ErrNotFound, "source connection %s", desc.SourceConnectionID)
	}
	tgt, ok := s.targets[desc.TargetConnectionID]
	if !ok {
		return models.SourceConnection{}, models.SnowflakeConnection{}, supervisor.Credentials{}, errors.Wrapf(ErrNotFound, "target connection %s", desc.TargetConnectionID)
	}
	if _, ok := s.stagings[desc.StagingAreaID]; !ok {
		return models.SourceConnection{}, models.SnowflakeConnection{}, supervisor.Credentials{}, errors.Wrapf(ErrNotFound, "staging area %s", desc.StagingAreaID)
	}

	srcPass, err := utils.DecryptSecret(src.secret)
	if err != nil {
		return models.SourceConnection{}, models.SnowflakeConnection{}, supervisor.Credentials{}, errors.Wrap(err, "open source password")
	}
	tgtPass, err := utils.DecryptSecret(tgt.secret)
	if err != nil {
		return models.SourceConnection{}, models.SnowflakeConnection{}, supervisor.Credentials{}, errors.Wrap(err, "open target password")
	}

	return src.conn, tgt.conn, supervisor.Credentials{SourcePassword: srcPass, TargetPassword: tgtPass}, nil
}
