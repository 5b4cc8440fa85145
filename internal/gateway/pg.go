package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/inkline/model"
)

// PgGateway is a PostgreSQL-backed Gateway using pgx/v5. Relation and column
// names are allow-listed and quoted; values are always bound parameters.
type PgGateway struct {
	pool *pgxpool.Pool
}

// NewPgGateway creates a new PostgreSQL gateway.
func NewPgGateway(pool *pgxpool.Pool) *PgGateway {
	return &PgGateway{pool: pool}
}

// Select runs q against relation.
func (g *PgGateway) Select(ctx context.Context, relation string, q Query) ([]Row, error) {
	sql, args, err := buildSelect(relation, q)
	if err != nil {
		return nil, err
	}
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", relation, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", relation, err)
	}
	return out, nil
}

// Insert writes rows in one transaction and returns them as stored.
func (g *PgGateway) Insert(ctx context.Context, relation string, rows []Row) ([]Row, error) {
	if err := CheckRelation(relation); err != nil {
		return nil, err
	}
	inserted := make([]Row, 0, len(rows))
	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		for _, r := range rows {
			sql, args, err := buildInsert(relation, r)
			if err != nil {
				return err
			}
			res, err := tx.Query(ctx, sql, args...)
			if err != nil {
				return err
			}
			row, err := pgx.CollectExactlyOneRow(res, pgx.RowToMap)
			if err != nil {
				return err
			}
			inserted = append(inserted, row)
		}
		return nil
	})
	if err != nil {
		if _, ok := model.AsEnvelope(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("insert %s: %w", relation, err)
	}
	return inserted, nil
}

// Update applies patch to the rows matching filter.
func (g *PgGateway) Update(ctx context.Context, relation string, patch Row, filter Filter) (int64, error) {
	sql, args, err := buildUpdate(relation, patch, filter)
	if err != nil {
		return 0, err
	}
	tag, err := g.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", relation, err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes the rows matching filter.
func (g *PgGateway) Delete(ctx context.Context, relation string, filter Filter) (int64, error) {
	sql, args, err := buildDelete(relation, filter)
	if err != nil {
		return 0, err
	}
	tag, err := g.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", relation, err)
	}
	return tag.RowsAffected(), nil
}

// Reorder renumbers positions in a single transaction with one UPDATE over
// unnest(keys), so the relation is never observed half-reordered.
func (g *PgGateway) Reorder(ctx context.Context, r Reorder) error {
	if err := validateReorder(r); err != nil {
		return err
	}
	countSQL, countArgs := buildCount(r.Relation, r.Scope)
	updateSQL, updateArgs := buildReorder(r)

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		var total int
		if err := tx.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
			return err
		}
		if total != len(r.Keys) {
			return model.NewConflictError(fmt.Sprintf(
				"reorder lists %d keys but %s holds %d rows in scope", len(r.Keys), r.Relation, total))
		}
		tag, err := tx.Exec(ctx, updateSQL, updateArgs...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != int64(len(r.Keys)) {
			return model.NewNotFoundError(fmt.Sprintf("one or more %s values not found in %s", r.KeyColumn, r.Relation))
		}
		return nil
	})
	if err != nil {
		if _, ok := model.AsEnvelope(err); ok {
			return err
		}
		return fmt.Errorf("reorder %s: %w", r.Relation, err)
	}
	return nil
}

// HealthCheck pings the database.
func (g *PgGateway) HealthCheck(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// --- SQL builders ---

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// whereClause renders f as a conjunction starting at placeholder $start.
func whereClause(f Filter, start int) (string, []any, error) {
	return whereClauseAs(f, start, "")
}

// whereClauseAs is whereClause with columns qualified by alias.
func whereClauseAs(f Filter, start int, alias string) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(f)
	if err := checkColumns(cols...); err != nil {
		return "", nil, err
	}
	parts := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		col := quote(c)
		if alias != "" {
			col = alias + "." + col
		}
		if f[c] == nil {
			parts = append(parts, col+" IS NULL")
			continue
		}
		args = append(args, f[c])
		parts = append(parts, fmt.Sprintf("%s = $%d", col, start+len(args)-1))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func buildSelect(relation string, q Query) (string, []any, error) {
	if err := CheckRelation(relation); err != nil {
		return "", nil, err
	}
	cols := "*"
	if len(q.Columns) > 0 {
		if err := checkColumns(q.Columns...); err != nil {
			return "", nil, err
		}
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args, err := whereClause(q.Filter, 1)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", cols, quote(relation), where)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			if err := checkColumns(o.Column); err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = quote(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func buildInsert(relation string, r Row) (string, []any, error) {
	if err := CheckRelation(relation); err != nil {
		return "", nil, err
	}
	if len(r) == 0 {
		return "", nil, model.NewBadRequestError("insert requires at least one column")
	}
	cols := sortedKeys(r)
	if err := checkColumns(cols...); err != nil {
		return "", nil, err
	}
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = r[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quote(relation), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return sql, args, nil
}

func buildUpdate(relation string, patch Row, f Filter) (string, []any, error) {
	if err := CheckRelation(relation); err != nil {
		return "", nil, err
	}
	if err := requireFilter("update", f); err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, model.NewBadRequestError("update requires at least one column")
	}
	cols := sortedKeys(patch)
	if err := checkColumns(cols...); err != nil {
		return "", nil, err
	}
	sets := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quote(c), i+1)
		args[i] = patch[c]
	}
	where, whereArgs, err := whereClause(f, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s%s", quote(relation), strings.Join(sets, ", "), where)
	return sql, append(args, whereArgs...), nil
}

func buildDelete(relation string, f Filter) (string, []any, error) {
	if err := CheckRelation(relation); err != nil {
		return "", nil, err
	}
	if err := requireFilter("delete", f); err != nil {
		return "", nil, err
	}
	where, args, err := whereClause(f, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", quote(relation), where), args, nil
}

// buildCount and buildReorder expect a request already checked by
// validateReorder.
func buildCount(relation string, scope Filter) (string, []any) {
	where, args, _ := whereClause(scope, 1)
	return fmt.Sprintf("SELECT count(*) FROM %s%s", quote(relation), where), args
}

func buildReorder(r Reorder) (string, []any) {
	where, args, _ := whereClauseAs(r.Scope, 2, "t")
	cond := fmt.Sprintf("t.%s::text = u.key", quote(r.KeyColumn))
	if where != "" {
		cond += " AND " + strings.TrimPrefix(where, " WHERE ")
	}
	sql := fmt.Sprintf(
		"UPDATE %s AS t SET %s = u.ord - 1 FROM unnest($1::text[]) WITH ORDINALITY AS u(key, ord) WHERE %s",
		quote(r.Relation), quote(PositionColumn), cond)
	return sql, append([]any{r.Keys}, args...)
}
