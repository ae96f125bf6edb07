package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

func TestPredicates(t *testing.T) {
	infra := UnderPrefix("offsetcore/internal/infra")
	assert.True(t, infra("offsetcore/internal/infra"))
	assert.True(t, infra("offsetcore/internal/infra/robot"))
	assert.False(t, infra("offsetcore/internal/infrastructure"))

	assert.True(t, InternalImport("offsetcore/internal/core"))
	assert.False(t, InternalImport("offsetcore/pkg/domain"))

	either := AnyOf(infra, func(p string) bool { return p == "net/http" })
	assert.True(t, either("net/http"))
	assert.False(t, either("fmt"))
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"offsetcore/internal/core\"\n)\n\nvar _ = fmt.Sprint\nvar _ core.Logger\n")
	write("a_test.go", "package x\n\nimport \"offsetcore/internal/jog\"\n")
	write("notes.txt", "import \"offsetcore/internal/jog\"")

	viols, err := directImportViolations(dir, InternalImport)
	require.NoError(t, err)
	assert.Equal(t, []string{"offsetcore/internal/core (in a.go)"}, viols)

	_, err = directImportViolations(filepath.Join(dir, "missing"), InternalImport)
	assert.Error(t, err)
}

func TestTransitiveViolations(t *testing.T) {
	leaf := &packages.Package{PkgPath: "offsetcore/internal/infra/robot"}
	mid := &packages.Package{PkgPath: "offsetcore/internal/core", Imports: map[string]*packages.Package{leaf.PkgPath: leaf}}
	root := &packages.Package{PkgPath: "offsetcore/pkg/domain", Imports: map[string]*packages.Package{mid.PkgPath: mid}}

	viols := transitiveViolations([]*packages.Package{root}, UnderPrefix("offsetcore/internal/infra"))
	assert.Equal(t, []string{"offsetcore/internal/infra/robot (via offsetcore/internal/core)"}, viols)
	assert.Empty(t, transitiveViolations([]*packages.Package{root}, UnderPrefix("offsetcore/cmd")))
}
