package database

import (
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/handlers"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
)

// Store combines the job and ranking repositories over one connection pool.
type Store struct {
	*JobRepository
	*RankingRepository
}

var (
	_ jobs.Store        = (*Store)(nil)
	_ jobs.PlannerStore = (*Store)(nil)
	_ handlers.Store    = (*Store)(nil)
)

// NewStore creates both repositories on db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		JobRepository:     NewJobRepository(db),
		RankingRepository: NewRankingRepository(db),
	}
}
