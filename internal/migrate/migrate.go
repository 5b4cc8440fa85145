// Package migrate applies the fixed, ordered list of schema changes the
// client features depend on.
package migrate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/observability"
)

// Step is one schema statement.
type Step struct {
	Name string
	SQL  string
}

// Steps is applied in order. Every statement is idempotent so a partially
// applied run can be repeated.
var Steps = []Step{
	{
		Name: "add collection_posts.position",
		SQL:  `ALTER TABLE collection_posts ADD COLUMN IF NOT EXISTS position integer NOT NULL DEFAULT 0`,
	},
	{
		Name: "backfill collection_posts.position",
		SQL: `UPDATE collection_posts AS cp SET position = ranked.rn - 1
FROM (SELECT id, row_number() OVER (PARTITION BY collection_id ORDER BY created_at, id) AS rn FROM collection_posts) AS ranked
WHERE cp.id = ranked.id`,
	},
	{
		Name: "index collection_posts by position",
		SQL:  `CREATE INDEX IF NOT EXISTS collection_posts_collection_position_idx ON collection_posts (collection_id, position)`,
	},
	{
		Name: "add user_subscriptions.auto_renew",
		SQL:  `ALTER TABLE user_subscriptions ADD COLUMN IF NOT EXISTS auto_renew boolean NOT NULL DEFAULT true`,
	},
	{
		Name: "add user_subscriptions.checkout_session_id",
		SQL:  `ALTER TABLE user_subscriptions ADD COLUMN IF NOT EXISTS checkout_session_id text`,
	},
	{
		Name: "drop user_subscriptions.renewal_reminder_sent",
		SQL:  `ALTER TABLE user_subscriptions DROP COLUMN IF EXISTS renewal_reminder_sent`,
	},
	{
		Name: "drop case-sensitive profiles username key",
		SQL:  `ALTER TABLE profiles DROP CONSTRAINT IF EXISTS profiles_username_key`,
	},
	{
		Name: "unique lowercase profiles username",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS profiles_username_lower_idx ON profiles (lower(username))`,
	},
}

// Execer runs a single statement. *pgx.Conn and *pgxpool.Pool satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Runner applies steps one at a time and stops at the first failure.
type Runner struct {
	db      Execer
	steps   []Step
	out     io.Writer
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRunner creates a runner for steps. Progress lines go to out.
func NewRunner(db Execer, steps []Step, out io.Writer, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, steps: steps, out: out, metrics: metrics, logger: logger}
}

// Run applies every step in order. It returns the error of the first step
// that fails; later steps are not attempted.
func (r *Runner) Run(ctx context.Context) error {
	for i, step := range r.steps {
		fmt.Fprintf(r.out, "[%d/%d] %s\n", i+1, len(r.steps), step.Name)
		start := time.Now()

		if _, err := r.db.Exec(ctx, step.SQL); err != nil {
			r.metrics.RecordMigration("failed")
			r.logger.Error("migration step failed", zap.String("step", step.Name), zap.Error(err))
			return fmt.Errorf("migrate: step %d (%s): %w", i+1, step.Name, err)
		}

		r.metrics.RecordMigration("applied")
		r.logger.Info("migration step applied",
			zap.String("step", step.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}
	fmt.Fprintf(r.out, "migration complete: %d statements applied\n", len(r.steps))
	return nil
}
