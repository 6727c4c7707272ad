package activity

import "testing"

func TestClassifyStatement(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"INSERT INTO users VALUES (1)", OpCreate},
		{"\n\t insert into users values (1)", OpCreate},
		{"UPDATE users SET name = $1", OpUpdate},
		{"delete from users", OpDelete},
		{"SELECT 1", ""},
		{"WITH x AS (DELETE FROM users RETURNING *) SELECT * FROM x", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ClassifyStatement(tt.sql); got != tt.want {
			t.Errorf("ClassifyStatement(%q) = %q, want %q", tt.sql, got, tt.want)
		}
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		sql  string
		op   string
		want string
	}{
		{"INSERT INTO users (id) VALUES (1)", OpCreate, "users"},
		{"insert into `legacy_users` values (1)", OpCreate, "legacy_users"},
		{`INSERT INTO "app"."orders" (id) VALUES ($1)`, OpCreate, "app.orders"},
		{"UPDATE [dbo].[items] SET x = 1", OpUpdate, "dbo.items"},
		{"UPDATE ONLY accounts SET x = 1", OpUpdate, "accounts"},
		{"DELETE FROM sessions WHERE id = $1", OpDelete, "sessions"},
		{"DELETE sessions", OpDelete, ""},
		{"INSERT INTO users", "select", ""},
	}
	for _, tt := range tests {
		if got := TableName(tt.sql, tt.op); got != tt.want {
			t.Errorf("TableName(%q, %q) = %q, want %q", tt.sql, tt.op, got, tt.want)
		}
	}
}
