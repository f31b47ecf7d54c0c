package scene

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixture_YAML(t *testing.T) {
	sc, err := LoadFixture(filepath.Join("testdata", "house.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "m", sc.Unit)
	require.Len(t, sc.Objects, 4)
	assert.Equal(t, "Kitchen", sc.Objects[1].Name)
	assert.Len(t, sc.Objects[1].Fragments, 2)
	assert.True(t, sc.Objects[3].Hidden)
	assert.Equal(t, []Property{{Name: "Area", Category: "Dimensions", Value: "16"}}, sc.Objects[0].Properties)
}

func TestLoadFixture_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.json")
	data := `{"unit":"ft","objects":[{"dbId":7,"name":"Den","category":"Revit Rooms","fragments":[{"min":[0,0,0],"max":[10,10,9]}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	sc, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, "ft", sc.Unit)
	assert.Equal(t, 7, sc.Objects[0].ID)
}

func TestLoadFixture_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"bad extension", write("scene.txt", "{}"), "must be .json"},
		{"missing file", filepath.Join(dir, "nope.json"), "failed to stat"},
		{"malformed json", write("bad.json", "{"), "failed to parse scene JSON"},
		{"malformed yaml", write("bad.yaml", "objects: [\n"), "failed to parse scene YAML"},
		{"unknown unit", write("unit.json", `{"unit":"furlong"}`), "unit must be one of"},
		{"duplicate id", write("dup.json", `{"objects":[{"dbId":1},{"dbId":1}]}`), "duplicate dbId 1"},
		{"non-positive id", write("zero.json", `{"objects":[{"dbId":0}]}`), "dbId must be positive"},
		{"inverted fragment", write("inv.json", `{"objects":[{"dbId":1,"fragments":[{"min":[1,0,0],"max":[0,1,1]}]}]}`), "min exceeds max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFixture(tt.path)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err, tt.wantErr)
		})
	}
}

func TestValidate_DefaultsUnit(t *testing.T) {
	sc := &Scene{}
	require.NoError(t, sc.Validate())
	assert.Equal(t, "m", sc.Unit)
}
