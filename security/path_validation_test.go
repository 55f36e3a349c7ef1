package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCleanAbsPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "empty", path: "", wantErr: true},
		{name: "dot", path: ".", wantErr: true},
		{name: "absolute", path: "/tmp/project/main.go", want: "/tmp/project/main.go"},
		{name: "cleans traversal", path: "/tmp/project/../other/main.go", want: "/tmp/other/main.go"},
		{name: "cleans double slash", path: "/tmp//project/main.go", want: "/tmp/project/main.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetCleanAbsPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsWithinAllowedDirectory(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		baseDir string
		want    bool
	}{
		{name: "direct child", path: "/home/user/project/main.go", baseDir: "/home/user/project", want: true},
		{name: "nested child", path: "/home/user/project/a/b/c.go", baseDir: "/home/user/project", want: true},
		{name: "base itself", path: "/home/user/project", baseDir: "/home/user/project", want: true},
		{name: "sibling", path: "/home/user/other/main.go", baseDir: "/home/user/project", want: false},
		{name: "parent", path: "/home/user", baseDir: "/home/user/project", want: false},
		{name: "prefix but not descendant", path: "/home/user/project-evil/x.go", baseDir: "/home/user/project", want: false},
		{name: "traversal out", path: "/home/user/project/../../etc/passwd", baseDir: "/home/user/project", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithinAllowedDirectory(tt.path, tt.baseDir))
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	got, err := ValidateConfigPath("/etc/app/config.json", []string{"/etc/app"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/app/config.json", got)

	_, err = ValidateConfigPath("/somewhere/else/config.json", []string{"/etc/app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")

	_, err = ValidateConfigPath("", []string{"/etc/app"})
	require.Error(t, err)

	// The working directory is always implicitly allowed.
	wd, err := filepath.Abs(".")
	require.NoError(t, err)
	got, err = ValidateConfigPath(filepath.Join(wd, "config.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "config.json"), got)
}

func TestValidateDocumentPath(t *testing.T) {
	// An empty allowlist accepts any absolute path.
	got, err := ValidateDocumentPath("/anywhere/at/all.go", nil)
	require.NoError(t, err)
	assert.Equal(t, "/anywhere/at/all.go", got)

	got, err = ValidateDocumentPath("/proj/src/main.go", []string{"/proj"})
	require.NoError(t, err)
	assert.Equal(t, "/proj/src/main.go", got)

	_, err = ValidateDocumentPath("/outside/main.go", []string{"/proj"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")

	_, err = ValidateDocumentPath("/proj/../outside/main.go", []string{"/proj"})
	require.Error(t, err)
}

func TestGetConfigAllowedDirectories(t *testing.T) {
	assert.Equal(t, []string{"/etc/app", "/work", "."}, GetConfigAllowedDirectories("/etc/app", "/work"))
	assert.Equal(t, []string{"/work", "."}, GetConfigAllowedDirectories("", "/work"))
	assert.Equal(t, []string{"."}, GetConfigAllowedDirectories("", ""))
}
