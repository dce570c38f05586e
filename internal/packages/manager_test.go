package packages

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testManifest(name string) *Manifest {
	return &Manifest{
		Name:        name,
		Version:     "1.0.0",
		Description: "a test skill",
		Type:        TypeSkill,
		License:     "MIT",
		Author:      "tester",
		Tags:        []string{"weather", "demo"},
		Entrypoint:  "skill.py",
		Tools:       []ToolDecl{{Name: name, Description: "does things"}},
	}
}

func writePackage(t *testing.T, dir string, m *Manifest) string {
	t.Helper()
	pkgDir := filepath.Join(dir, m.Name)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(pkgDir); err != nil {
		t.Fatal(err)
	}
	if m.Entrypoint != "" {
		if err := os.WriteFile(filepath.Join(pkgDir, m.Entrypoint), []byte("# skill\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return pkgDir
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "tools"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestInstallScanRemoveRoundTrip(t *testing.T) {
	m := newTestManager(t)
	src := writePackage(t, t.TempDir(), testManifest("weather"))

	if _, err := m.Install(src, false); err != nil {
		t.Fatalf("install: %v", err)
	}

	scan := m.Scan()
	if len(scan) != 1 || scan[0].Manifest.Name != "weather" {
		t.Fatalf("scan after install = %+v", scan)
	}

	if err := m.Remove("weather"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(m.Scan()) != 0 {
		t.Error("scan still lists removed package")
	}
	if err := m.Remove("weather"); err == nil {
		t.Error("removing unknown package succeeded")
	}
}

func TestInstallWithoutForceFailsWithoutMutation(t *testing.T) {
	m := newTestManager(t)
	v1 := testManifest("weather")
	src1 := writePackage(t, t.TempDir(), v1)
	if _, err := m.Install(src1, false); err != nil {
		t.Fatal(err)
	}

	v2 := testManifest("weather")
	v2.Version = "2.0.0"
	src2 := writePackage(t, t.TempDir(), v2)

	if _, err := m.Install(src2, false); err == nil {
		t.Fatal("second install without force succeeded")
	}
	got := m.Get("weather")
	if got == nil || got.Manifest.Version != "1.0.0" {
		t.Errorf("existing install mutated: %+v", got)
	}

	// Force replaces.
	if _, err := m.Install(src2, true); err != nil {
		t.Fatalf("force install: %v", err)
	}
	if got := m.Get("weather"); got.Manifest.Version != "2.0.0" {
		t.Errorf("force install did not replace: %+v", got)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	writeInstalled := func(name string) {
		src := writePackage(t, t.TempDir(), testManifest(name))
		if _, err := m.Install(src, false); err != nil {
			t.Fatal(err)
		}
	}
	writeInstalled("bravo")
	writeInstalled("alpha")

	first := m.Scan()
	second := m.Scan()
	if len(first) != 2 || first[0].Manifest.Name != "alpha" {
		t.Fatalf("scan not sorted: %+v", first)
	}
	if !reflect.DeepEqual(manifestNames(first), manifestNames(second)) {
		t.Error("consecutive scans differ")
	}
}

func TestScanSkipsBrokenManifests(t *testing.T) {
	m := newTestManager(t)
	broken := filepath.Join(m.Root(), "skills", "broken")
	os.MkdirAll(broken, 0o755)
	os.WriteFile(filepath.Join(broken, ManifestFilename), []byte("::: not yaml {"), 0o644)

	src := writePackage(t, t.TempDir(), testManifest("good"))
	if _, err := m.Install(src, false); err != nil {
		t.Fatal(err)
	}

	scan := m.Scan()
	if len(scan) != 1 || scan[0].Manifest.Name != "good" {
		t.Errorf("scan = %+v", scan)
	}
}

func TestSearch(t *testing.T) {
	m := newTestManager(t)
	w := testManifest("weather")
	w.Description = "fetches forecasts"
	m.Install(writePackage(t, t.TempDir(), w), false)
	c := testManifest("calc")
	c.Tags = []string{"math"}
	m.Install(writePackage(t, t.TempDir(), c), false)

	if got := m.Search("forecast", ""); len(got) != 1 || got[0].Manifest.Name != "weather" {
		t.Errorf("search by description = %+v", got)
	}
	if got := m.Search("math", ""); len(got) != 1 || got[0].Manifest.Name != "calc" {
		t.Errorf("search by tag = %+v", got)
	}
	if got := m.Search("", TypeSkill); len(got) != 2 {
		t.Errorf("search by type = %d results", len(got))
	}
	if got := m.Search("nothing-matches", ""); len(got) != 0 {
		t.Errorf("empty search = %+v", got)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
		check  string
	}{
		{"valid", func(m *Manifest) {}, ""},
		{"bad license", func(m *Manifest) { m.License = "GPL-3.0" }, "license"},
		{"bad version", func(m *Manifest) { m.Version = "one" }, "version"},
		{"bad name", func(m *Manifest) { m.Name = "Has Spaces" }, "name"},
		{"missing tools", func(m *Manifest) { m.Tools = nil }, "tools"},
		{"missing entrypoint", func(m *Manifest) { m.Entrypoint = "" }, "entrypoint"},
		{"unknown type", func(m *Manifest) { m.Type = "gadget" }, "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest("weather")
			tt.mutate(m)
			findings := m.Validate("")
			if tt.check == "" {
				if len(findings) != 0 {
					t.Errorf("unexpected findings: %+v", findings)
				}
				return
			}
			found := false
			for _, f := range findings {
				if f.Check == tt.check {
					found = true
				}
			}
			if !found {
				t.Errorf("expected finding on %q, got %+v", tt.check, findings)
			}
		})
	}
}

func manifestNames(infos []Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Manifest.Name + "@" + info.Manifest.Version
	}
	return out
}
