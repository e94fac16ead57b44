package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
)

const generationColumns = `
id, user_id, prompt, negative_prompt, generation_mode, resolution, aspect_ratio,
guidance_scale, num_inference_steps, seed, status, result_url, result_path,
metadata, created_at, updated_at, completed_at`

// GenerationRepositoryPG implements domain.GenerationRepository on PostgreSQL.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	meta, err := json.Marshal(gen.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
INSERT INTO generations (id, user_id, prompt, negative_prompt, generation_mode, resolution,
  aspect_ratio, guidance_scale, num_inference_steps, seed, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		gen.ID,
		gen.UserID,
		gen.Prompt,
		nullableString(gen.NegativePrompt),
		gen.Mode,
		gen.Resolution,
		gen.AspectRatio,
		gen.GuidanceScale,
		gen.Steps,
		gen.Seed,
		gen.Status,
		meta,
	)
	return row.Scan(&gen.CreatedAt, &gen.UpdatedAt)
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1;`
	return scanGeneration(r.pool.QueryRow(ctx, query, id))
}

// GetForUser fetches a generation scoped to its owner.
func (r *GenerationRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1 AND user_id = $2;`
	return scanGeneration(r.pool.QueryRow(ctx, query, id, userID))
}

// ListForUser returns the owner's generations newest first plus the total count.
func (r *GenerationRepositoryPG) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Generation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM generations WHERE user_id = $1;`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + generationColumns + `
FROM generations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, gen)
	}
	return out, total, rows.Err()
}

// CountActive counts the owner's generations in pending or running state.
func (r *GenerationRepositoryPG) CountActive(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM generations WHERE user_id = $1 AND status IN ('pending', 'running');`
	var n int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&n)
	return n, err
}

// MarkRunning transitions a pending generation to running.
func (r *GenerationRepositoryPG) MarkRunning(ctx context.Context, id string) error {
	query := `UPDATE generations SET status = 'running', updated_at = NOW() WHERE id = $1;`
	return r.exec(ctx, query, id)
}

// Complete records the terminal completed state with the result location.
func (r *GenerationRepositoryPG) Complete(ctx context.Context, id, resultURL, resultPath string) error {
	query := `
UPDATE generations
SET status = 'completed',
    result_url = $2,
    result_path = NULLIF($3, ''),
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, id, resultURL, resultPath)
}

// Fail records the terminal failed state and stores the error in metadata.
func (r *GenerationRepositoryPG) Fail(ctx context.Context, id, message string) error {
	query := `
UPDATE generations
SET status = 'failed',
    metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{error}', to_jsonb($2::text)),
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1;
`
	return r.exec(ctx, query, id, message)
}

// Delete removes a generation record.
func (r *GenerationRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generations WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListExpired returns generations created before the cutoff.
func (r *GenerationRepositoryPG) ListExpired(ctx context.Context, cutoff time.Time) ([]*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE created_at < $1 ORDER BY created_at;`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gen)
	}
	return out, rows.Err()
}

// ReferenceInUse reports whether any other generation lists the reference URL
// in its metadata.
func (r *GenerationRepositoryPG) ReferenceInUse(ctx context.Context, url, excludeID string) (bool, error) {
	query := `
SELECT EXISTS (
  SELECT 1 FROM generations
  WHERE id <> $1
    AND metadata ? 'reference_image_urls'
    AND metadata->'reference_image_urls' @> to_jsonb($2::text)
);
`
	var exists bool
	err := r.pool.QueryRow(ctx, query, excludeID, url).Scan(&exists)
	return exists, err
}

func (r *GenerationRepositoryPG) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		gen        domain.Generation
		negative   *string
		resultURL  *string
		resultPath *string
		meta       []byte
	)
	if err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.Prompt,
		&negative,
		&gen.Mode,
		&gen.Resolution,
		&gen.AspectRatio,
		&gen.GuidanceScale,
		&gen.Steps,
		&gen.Seed,
		&gen.Status,
		&resultURL,
		&resultPath,
		&meta,
		&gen.CreatedAt,
		&gen.UpdatedAt,
		&gen.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if negative != nil {
		gen.NegativePrompt = *negative
	}
	if resultURL != nil {
		gen.ResultURL = *resultURL
	}
	if resultPath != nil {
		gen.ResultPath = *resultPath
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &gen.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &gen, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
