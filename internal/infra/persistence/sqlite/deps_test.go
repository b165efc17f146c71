package sqlite

import (
	"testing"

	"poolcore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportExcept(
		"poolcore/pkg/domain",
		"poolcore/internal/infra/persistence/memory",
	), "the sqlite store snapshots the memory store")
}
