package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS generations (
    id                  UUID PRIMARY KEY,
    user_id             TEXT NOT NULL,
    prompt              TEXT NOT NULL,
    negative_prompt     TEXT,
    generation_mode     TEXT NOT NULL DEFAULT 'text-to-image',
    resolution          TEXT NOT NULL DEFAULT '1K',
    aspect_ratio        TEXT NOT NULL DEFAULT '1:1',
    guidance_scale      DOUBLE PRECISION NOT NULL DEFAULT 7.5,
    num_inference_steps INT NOT NULL DEFAULT 50,
    seed                BIGINT,
    status              TEXT NOT NULL DEFAULT 'pending',
    result_url          TEXT,
    result_path         TEXT,
    metadata            JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_generations_user_created
    ON generations (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_generations_status
    ON generations (user_id, status);
CREATE INDEX IF NOT EXISTS idx_generations_created
    ON generations (created_at);
`

// Migrate applies the generations schema. Statements are idempotent so the
// call is safe on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
