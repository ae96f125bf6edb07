package core

import (
	"testing"

	"offsetcore/testutil"
)

func TestCoreStaysBelowAdapters(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(
		testutil.UnderPrefix("offsetcore/internal/adapters"),
		testutil.UnderPrefix("offsetcore/internal/jog"),
		testutil.UnderPrefix("offsetcore/internal/infra/robot"),
		testutil.UnderPrefix("offsetcore/cmd"),
	), "core is driven by adapters, never the other way round")
}
