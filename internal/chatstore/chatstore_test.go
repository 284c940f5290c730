package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFunc(ctx, sql, args...)
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.queryFunc(ctx, sql, args...)
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFunc(ctx, sql, args...)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateConversation(t *testing.T) {
	t.Parallel()
	now := time.Now()

	var gotSQL string
	db := &mockDB{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			gotSQL = sql
			if args[0] != "morning chat" {
				t.Errorf("title arg = %v", args[0])
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*int64) = 7
				*dest[1].(*time.Time) = now
				return nil
			}}
		},
	}

	c, err := NewStore(db).CreateConversation(context.Background(), "morning chat")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.ID != 7 || c.Title != "morning chat" || !c.CreatedAt.Equal(now) {
		t.Errorf("conversation = %+v", c)
	}
	if !strings.Contains(gotSQL, "INSERT INTO conversations") {
		t.Errorf("sql = %q", gotSQL)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
		},
	}
	_, err := NewStore(db).GetConversation(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversationsFiltersDeleted(t *testing.T) {
	t.Parallel()
	now := time.Now()
	rows := &mockRows{data: [][]any{
		{int64(2), "newer", now, false},
		{int64(1), "older", now.Add(-time.Hour), false},
	}}
	var gotSQL string
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			gotSQL = sql
			return rows, nil
		},
	}

	out, err := NewStore(db).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(out) != 2 || out[0].ID != 2 {
		t.Errorf("out = %+v", out)
	}
	if !strings.Contains(gotSQL, "NOT is_deleted") {
		t.Errorf("query does not filter soft-deleted rows: %q", gotSQL)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestDeleteConversation(t *testing.T) {
	t.Parallel()

	t.Run("soft delete", func(t *testing.T) {
		t.Parallel()
		var gotSQL string
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
				gotSQL = sql
				return pgconn.NewCommandTag("UPDATE 1"), nil
			},
		}
		if err := NewStore(db).DeleteConversation(context.Background(), 5); err != nil {
			t.Fatalf("DeleteConversation: %v", err)
		}
		if !strings.Contains(gotSQL, "SET is_deleted = true") {
			t.Errorf("delete is not soft: %q", gotSQL)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag("UPDATE 0"), nil
			},
		}
		if err := NewStore(db).DeleteConversation(context.Background(), 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAppendMessageValidatesRole(t *testing.T) {
	t.Parallel()
	s := NewStore(&mockDB{})
	if _, err := s.AppendMessage(context.Background(), 1, "system", "hi"); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestMessagesOrderedAndLimited(t *testing.T) {
	t.Parallel()
	now := time.Now()
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "ORDER BY created_at, id") {
				t.Errorf("query lacks stable ordering: %q", sql)
			}
			if len(args) != 2 || args[1] != 20 {
				t.Errorf("args = %v, want conversation id and limit 20", args)
			}
			return &mockRows{data: [][]any{
				{int64(1), int64(3), "user", "hello", now},
				{int64(2), int64(3), "assistant", "hi there", now},
			}}, nil
		},
	}

	out, err := NewStore(db).Messages(context.Background(), 3, 20)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(out) != 2 || out[1].Role != "assistant" {
		t.Errorf("out = %+v", out)
	}
}

func TestSetMemory(t *testing.T) {
	t.Parallel()

	t.Run("upserts", func(t *testing.T) {
		t.Parallel()
		var gotSQL string
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				gotSQL = sql
				if args[0] != "wifi_password" || args[1] != "hunter2" {
					t.Errorf("args = %v", args)
				}
				return pgconn.NewCommandTag("INSERT 0 1"), nil
			},
		}
		if err := NewStore(db).SetMemory(context.Background(), "wifi_password", "hunter2"); err != nil {
			t.Fatalf("SetMemory: %v", err)
		}
		if !strings.Contains(gotSQL, "ON CONFLICT (key) DO UPDATE") {
			t.Errorf("sql is not an upsert: %q", gotSQL)
		}
	})

	t.Run("rejects empty value", func(t *testing.T) {
		t.Parallel()
		s := NewStore(&mockDB{})
		if err := s.SetMemory(context.Background(), "k", "  "); err == nil {
			t.Error("expected error for empty value")
		}
		if err := s.SetMemory(context.Background(), "", "v"); err == nil {
			t.Error("expected error for empty key")
		}
	})
}

func TestAllMemory(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{"city", "Hanoi"},
				{"name", "Minh"},
			}}, nil
		},
	}
	out, err := NewStore(db).AllMemory(context.Background())
	if err != nil {
		t.Fatalf("AllMemory: %v", err)
	}
	if out["city"] != "Hanoi" || out["name"] != "Minh" {
		t.Errorf("out = %v", out)
	}
}
