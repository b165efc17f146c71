package memory

import (
	"testing"

	"poolcore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportExcept("poolcore/pkg/domain"),
		"the memory store depends on the domain layer only")
}
