package gateway

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/inkline/model"
)

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		relation string
		query    Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "all columns",
			relation: "posts",
			wantSQL:  `SELECT * FROM "posts"`,
		},
		{
			name:     "columns filter order limit",
			relation: "posts",
			query: Query{
				Columns: []string{"id", "caption"},
				Filter:  Filter{"user_id": "u1", "deleted_at": nil},
				Order:   []OrderBy{{Column: "created_at", Desc: true}},
				Limit:   20,
			},
			wantSQL:  `SELECT "id", "caption" FROM "posts" WHERE "deleted_at" IS NULL AND "user_id" = $1 ORDER BY "created_at" DESC LIMIT 20`,
			wantArgs: []any{"u1"},
		},
		{
			name:     "filter keys sorted",
			relation: "follows",
			query:    Query{Filter: Filter{"following_id": "b", "follower_id": "a"}},
			wantSQL:  `SELECT * FROM "follows" WHERE "follower_id" = $1 AND "following_id" = $2`,
			wantArgs: []any{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildSelect(tt.relation, tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("sql:\n got %s\nwant %s", sql, tt.wantSQL)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildSelect_rejects(t *testing.T) {
	tests := []struct {
		name     string
		relation string
		query    Query
	}{
		{"unknown relation", "pg_shadow", Query{}},
		{"bad column", "posts", Query{Columns: []string{"id; drop table posts"}}},
		{"bad filter column", "posts", Query{Filter: Filter{"User": "x"}}},
		{"bad order column", "posts", Query{Order: []OrderBy{{Column: "1=1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildSelect(tt.relation, tt.query)
			if !model.HasCode(err, model.ErrBadRequest) {
				t.Errorf("expected BAD_REQUEST, got %v", err)
			}
		})
	}
}

func TestBuildInsert(t *testing.T) {
	sql, args, err := buildInsert("likes", Row{"user_id": "u1", "post_id": "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `INSERT INTO "likes" ("post_id", "user_id") VALUES ($1, $2) RETURNING *`
	if sql != want {
		t.Errorf("sql:\n got %s\nwant %s", sql, want)
	}
	if diff := cmp.Diff([]any{"p1", "u1"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := buildInsert("likes", Row{}); !model.HasCode(err, model.ErrBadRequest) {
		t.Errorf("empty row: expected BAD_REQUEST, got %v", err)
	}
}

func TestBuildUpdate(t *testing.T) {
	sql, args, err := buildUpdate("conversations",
		Row{"unread_count": 0, "read_at": "now"},
		Filter{"id": "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `UPDATE "conversations" SET "read_at" = $1, "unread_count" = $2 WHERE "id" = $3`
	if sql != want {
		t.Errorf("sql:\n got %s\nwant %s", sql, want)
	}
	if diff := cmp.Diff([]any{"now", 0, "c1"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildUpdate_requiresFilterAndPatch(t *testing.T) {
	if _, _, err := buildUpdate("posts", Row{"caption": "x"}, nil); !model.HasCode(err, model.ErrBadRequest) {
		t.Errorf("no filter: expected BAD_REQUEST, got %v", err)
	}
	if _, _, err := buildUpdate("posts", Row{}, Filter{"id": "p1"}); !model.HasCode(err, model.ErrBadRequest) {
		t.Errorf("no patch: expected BAD_REQUEST, got %v", err)
	}
}

func TestBuildDelete(t *testing.T) {
	sql, args, err := buildDelete("likes", Filter{"user_id": "u1", "post_id": "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `DELETE FROM "likes" WHERE "post_id" = $1 AND "user_id" = $2`
	if sql != want {
		t.Errorf("sql:\n got %s\nwant %s", sql, want)
	}
	if diff := cmp.Diff([]any{"p1", "u1"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := buildDelete("likes", Filter{}); !model.HasCode(err, model.ErrBadRequest) {
		t.Errorf("no filter: expected BAD_REQUEST, got %v", err)
	}
}

func TestBuildReorder(t *testing.T) {
	r := Reorder{
		Relation:  "collection_posts",
		Scope:     Filter{"collection_id": "c1"},
		KeyColumn: "post_id",
		Keys:      []string{"p3", "p1", "p2"},
	}

	countSQL, countArgs := buildCount(r.Relation, r.Scope)
	wantCount := `SELECT count(*) FROM "collection_posts" WHERE "collection_id" = $1`
	if countSQL != wantCount {
		t.Errorf("count sql:\n got %s\nwant %s", countSQL, wantCount)
	}
	if diff := cmp.Diff([]any{"c1"}, countArgs); diff != "" {
		t.Errorf("count args mismatch (-want +got):\n%s", diff)
	}

	sql, args := buildReorder(r)
	want := `UPDATE "collection_posts" AS t SET "position" = u.ord - 1 ` +
		`FROM unnest($1::text[]) WITH ORDINALITY AS u(key, ord) ` +
		`WHERE t."post_id"::text = u.key AND t."collection_id" = $2`
	if sql != want {
		t.Errorf("reorder sql:\n got %s\nwant %s", sql, want)
	}
	if diff := cmp.Diff([]any{[]string{"p3", "p1", "p2"}, "c1"}, args); diff != "" {
		t.Errorf("reorder args mismatch (-want +got):\n%s", diff)
	}
}
