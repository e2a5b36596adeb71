package di

import (
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// providerCalls returns the Provide* identifiers referenced inside fn.
func providerCalls(t *testing.T, file, fn string) []string {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.SkipObjectResolution)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Name.Name != fn {
			continue
		}
		ast.Inspect(fd.Body, func(n ast.Node) bool {
			if id, ok := n.(*ast.Ident); ok && strings.HasPrefix(id.Name, "Provide") {
				seen[id.Name] = true
			}
			return true
		})
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func TestWireGenMatchesInjector(t *testing.T) {
	declared := providerCalls(t, "wire.go", "InitializeApp")
	generated := providerCalls(t, "wire_gen.go", "InitializeApp")

	require.NotEmpty(t, declared)
	assert.Equal(t, declared, generated, "wire_gen.go is stale, run go generate ./internal/di")
}
