package main

import (
	"testing"
	"testing/fstest"

	"github.com/resolutionconsent/digipin/migrations"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_init.up.sql":          1,
		"002_identity_seed.up.sql": 2,
		"120_big.up.sql":           120,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		if err != nil || got != want {
			t.Errorf("versionFromFile(%q) = %d, %v; want %d", name, got, err, want)
		}
	}
	for _, bad := range []string{"init.sql", "x_init.up.sql"} {
		if _, err := versionFromFile(bad); err == nil {
			t.Errorf("versionFromFile(%q): expected error", bad)
		}
	}
}

func TestUpFiles_ordered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.up.sql":   {Data: []byte("SELECT 2")},
		"001_a.up.sql":   {Data: []byte("SELECT 1")},
		"001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":      {Data: []byte("docs")},
	}
	got, err := upFiles(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "001_a.up.sql" || got[1] != "002_b.up.sql" {
		t.Errorf("upFiles = %v", got)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := upFiles(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 || files[0] != "001_init.up.sql" {
		t.Errorf("embedded migrations = %v", files)
	}
}
