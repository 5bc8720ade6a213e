package dbtest

import "testing"

func TestWithSearchPath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: "postgres://u:p@db:5432/catalogd", want: "postgres://u:p@db:5432/catalogd?search_path=s1"},
		{dsn: "postgres://db/catalogd?sslmode=disable", want: "postgres://db/catalogd?search_path=s1&sslmode=disable"},
		{dsn: "host=db dbname=catalogd ", want: "host=db dbname=catalogd search_path=s1"},
	}
	for _, tt := range tests {
		if got := WithSearchPath(tt.dsn, "s1"); got != tt.want {
			t.Fatalf("WithSearchPath(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
