// Package repository holds the persistence boundary: PostgreSQL repositories
// built with squirrel and an in-memory store with the same semantics.
package repository

import (
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/kapu/artist-radar/internal/service/database"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements domain.Store on top of the three repositories.
type PostgresStore struct {
	*ArtistRepository
	*ScoreRepository
	*JobRepository

	postgres *database.PostgresService
}

func NewPostgresStore(postgres *database.PostgresService, logger *zap.Logger) *PostgresStore {
	db := postgres.GetDB()
	return &PostgresStore{
		ArtistRepository: NewArtistRepository(db, logger),
		ScoreRepository:  NewScoreRepository(db, logger),
		JobRepository:    NewJobRepository(db, logger),
		postgres:         postgres,
	}
}

func (s *PostgresStore) Close() error {
	return s.postgres.Close()
}

func prefixed(prefix string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + "." + c
	}
	return out
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	v := ns.String
	return &v
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
