package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEdge(t *testing.T) {
	tests := []struct {
		name  string
		rel   RelKind
		src   NodeKind
		dst   NodeKind
		valid bool
	}{
		{"file contains function", RelContains, KindFile, KindFunction, true},
		{"file contains class", RelContains, KindFile, KindClass, true},
		{"file contains import", RelContains, KindFile, KindImport, true},
		{"class defines method", RelDefines, KindClass, KindMethod, true},
		{"class inherits class", RelInherits, KindClass, KindClass, true},
		{"file imports import", RelImports, KindFile, KindImport, true},
		{"function calls function", RelCalls, KindFunction, KindFunction, true},
		{"method calls function", RelCalls, KindMethod, KindFunction, true},
		{"method calls method", RelCalls, KindMethod, KindMethod, true},

		{"class calls function", RelCalls, KindClass, KindFunction, false},
		{"function calls method", RelCalls, KindFunction, KindMethod, false},
		{"contains inverted", RelContains, KindFunction, KindFile, false},
		{"class contains method", RelContains, KindClass, KindMethod, false},
		{"file inherits file", RelInherits, KindFile, KindFile, false},
		{"import imports file", RelImports, KindImport, KindFile, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidEdge(tt.rel, tt.src, tt.dst))
		})
	}
}

func TestValidateNode(t *testing.T) {
	err := ValidateNode(KindFunction, "helper", "a.py::helper", map[string]any{
		"args":   []string{},
		"lineno": 1,
	})
	require.NoError(t, err)

	err = ValidateNode(KindFunction, "helper", "a.py::helper", map[string]any{
		"args": []string{},
	})
	require.Error(t, err)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "lineno", violation.Attr)

	err = ValidateNode(KindFunction, "", "a.py::", map[string]any{"args": []string{}, "lineno": 1})
	require.Error(t, err)

	err = ValidateNode(NodeKind("Gadget"), "x", "x", nil)
	require.Error(t, err)
}

func TestIdentityKeys(t *testing.T) {
	assert.Equal(t, "src/a.py", FileKey("src/a.py"))
	assert.Equal(t, "src/a.py::helper", FunctionKey("src/a.py", "helper"))
	assert.Equal(t, "src/a.py::Widget", ClassKey("src/a.py", "Widget"))
	assert.Equal(t, "src/a.py::Widget.render", MethodKey("src/a.py", "Widget", "render"))
	assert.Equal(t, "src/a.py::os", ImportKey("src/a.py", "os"))
}

func TestUniquenessConstraints(t *testing.T) {
	constraints := UniquenessConstraints()
	require.Len(t, constraints, 5)
	for _, c := range constraints {
		assert.True(t, c.Kind.IsValid())
		assert.Equal(t, "fullName", c.Attr)
	}
}
