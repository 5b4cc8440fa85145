package migrate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/inkline/internal/observability"
)

type fakeExecer struct {
	executed []string
	failOn   string
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New(`relation "collection_posts" does not exist`)
	}
	f.executed = append(f.executed, sql)
	return pgconn.NewCommandTag("ALTER TABLE"), nil
}

var testSteps = []Step{
	{Name: "one", SQL: "ALTER TABLE a ADD COLUMN x int"},
	{Name: "two", SQL: "ALTER TABLE b DROP COLUMN y"},
	{Name: "three", SQL: "CREATE INDEX c_idx ON c (z)"},
}

func TestRunner_Run(t *testing.T) {
	db := &fakeExecer{}
	var out bytes.Buffer
	m := observability.InitMetrics(prometheus.NewRegistry())

	if err := NewRunner(db, testSteps, &out, m, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(db.executed) != 3 {
		t.Fatalf("executed %d statements, want 3", len(db.executed))
	}
	for i, step := range testSteps {
		if db.executed[i] != step.SQL {
			t.Errorf("statement %d = %q, want %q", i, db.executed[i], step.SQL)
		}
	}
	if !strings.Contains(out.String(), "[2/3] two") || !strings.Contains(out.String(), "3 statements applied") {
		t.Errorf("progress output = %q", out.String())
	}
	if got := testutil.ToFloat64(m.MigrationsAppliedTotal.WithLabelValues("applied")); got != 3 {
		t.Errorf("applied = %v, want 3", got)
	}
}

func TestRunner_Run_stopsAtFirstFailure(t *testing.T) {
	db := &fakeExecer{failOn: "DROP"}
	m := observability.InitMetrics(prometheus.NewRegistry())

	err := NewRunner(db, testSteps, nil, m, nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "step 2 (two)") {
		t.Errorf("error = %v", err)
	}
	if len(db.executed) != 1 {
		t.Errorf("executed %d statements, want 1", len(db.executed))
	}
	if got := testutil.ToFloat64(m.MigrationsAppliedTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestSteps(t *testing.T) {
	if len(Steps) == 0 {
		t.Fatal("no migration steps")
	}
	if !strings.Contains(Steps[0].SQL, "collection_posts ADD COLUMN IF NOT EXISTS position") {
		t.Errorf("first step should add collection_posts.position, got %q", Steps[0].SQL)
	}
	seen := map[string]bool{}
	for _, s := range Steps {
		if seen[s.Name] {
			t.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		upper := strings.ToUpper(s.SQL)
		if strings.Contains(upper, "ADD COLUMN") && !strings.Contains(upper, "IF NOT EXISTS") {
			t.Errorf("step %q is not idempotent", s.Name)
		}
		if strings.Contains(upper, "DROP") && !strings.Contains(upper, "IF EXISTS") {
			t.Errorf("step %q is not idempotent", s.Name)
		}
	}
}
