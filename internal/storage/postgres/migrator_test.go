package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadScripts_OrderedByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_outbox.up.sql":     migrationFile("CREATE TABLE outbox (id UUID PRIMARY KEY);"),
		"sql/migrations/0002_outbox.down.sql":   migrationFile("DROP TABLE IF EXISTS outbox;"),
		"sql/migrations/0001_products.up.sql":   migrationFile("CREATE TABLE products (id TEXT PRIMARY KEY);"),
		"sql/migrations/0001_products.down.sql": migrationFile("DROP TABLE IF EXISTS products;"),
	}

	scripts, err := loadScripts(fsys)
	if err != nil {
		t.Fatalf("loadScripts failed: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}

	if scripts[0].version != 1 || scripts[0].name != "products" {
		t.Fatalf("unexpected first script: %+v", scripts[0])
	}
	if scripts[1].version != 2 || scripts[1].name != "outbox" {
		t.Fatalf("unexpected second script: %+v", scripts[1])
	}
	if !strings.Contains(scripts[0].up, "CREATE TABLE products") {
		t.Fatalf("up body lost: %q", scripts[0].up)
	}
	if !strings.Contains(scripts[1].down, "DROP TABLE IF EXISTS outbox") {
		t.Fatalf("down body lost: %q", scripts[1].down)
	}
}

func TestLoadScripts_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "missing down file",
			fsys: fstest.MapFS{
				"sql/migrations/0001_products.up.sql": migrationFile("CREATE TABLE products (id TEXT);"),
			},
			wantErr: "both up and down",
		},
		{
			name: "unparseable file name",
			fsys: fstest.MapFS{
				"sql/migrations/schema.sql": migrationFile("SELECT 1;"),
			},
			wantErr: "unexpected migration file name",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_products.up.sql":   migrationFile("   \n"),
				"sql/migrations/0001_products.down.sql": migrationFile("DROP TABLE IF EXISTS products;"),
			},
			wantErr: "no statements",
		},
		{
			name: "version with two names",
			fsys: fstest.MapFS{
				"sql/migrations/0001_products.up.sql": migrationFile("CREATE TABLE products (id TEXT);"),
				"sql/migrations/0001_orders.down.sql": migrationFile("DROP TABLE IF EXISTS orders;"),
			},
			wantErr: "two names",
		},
		{
			name:    "empty directory",
			fsys:    fstest.MapFS{},
			wantErr: "no migration files",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadScripts(tc.fsys)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
