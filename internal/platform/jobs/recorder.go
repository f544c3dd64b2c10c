package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRecorder writes run history to the job_runs table.
type PGRecorder struct {
	DB *pgxpool.Pool
}

func (r PGRecorder) Started(ctx context.Context, jobType, key string) (string, error) {
	runID := uuid.NewString()
	_, err := r.DB.Exec(ctx, `
    INSERT INTO job_runs (id, job_type, job_key, status)
    VALUES ($1,$2,$3,'running')
  `, runID, jobType, key)
	if err != nil {
		return "", err
	}
	return runID, nil
}

func (r PGRecorder) Finished(ctx context.Context, runID, status string, details []byte) error {
	_, err := r.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, details, runID)
	return err
}
