package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type recordingT struct {
	msg string
}

func (r *recordingT) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolationsIgnoresTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n")
	writeFile(t, dir, "main_test.go", "package tmp\nimport \"poolcore/internal/blob/s3\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "sub.go", "package sub\nimport \"poolcore/internal/blob/s3\"\n")

	AssertNoDirectImports(t, dir, BlobDriverImport, "drivers stay behind blob.Open")
}

func TestDirectImportViolationsReportsOffenders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", "package tmp\nimport _ \"poolcore/internal/core\"\n")
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t_ \"poolcore/pkg/domain\"\n\t_ \"poolcore/internal/blob/memory\"\n)\n")

	viols, err := directImportViolations(dir, ModuleImportExcept("poolcore/pkg/domain"))
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	want := []string{"poolcore/internal/blob/memory (in a.go)", "poolcore/internal/core (in b.go)"}
	if fmt.Sprint(viols) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, viols)
	}

	rec := &recordingT{}
	failIfDirectViolations(rec, "layering", viols)
	if rec.msg == "" {
		t.Fatalf("expected failure to be reported")
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, ModuleImport); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), ModuleImport); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestModuleImport(t *testing.T) {
	cases := map[string]bool{
		"poolcore":                  true,
		"poolcore/pkg/domain":       true,
		"poolcorex/pkg":             false,
		"go.uber.org/zap":           false,
		"poolcore/internal/blob/s3": true,
	}
	for path, want := range cases {
		if got := ModuleImport(path); got != want {
			t.Errorf("ModuleImport(%q) = %v, want %v", path, got, want)
		}
	}
	if BlobDriverImport("poolcore/internal/blob") {
		t.Errorf("blob.Open package is not a driver")
	}
}
