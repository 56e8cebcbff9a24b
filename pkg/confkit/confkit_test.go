package confkit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("CHARTLAB_TEST_DIR", "testvalue")
	tests := []struct {
		name string
		base string
		file string
		want string
	}{
		{"absolute path", "/base/dir", "/absolute/path/file.yaml", "/absolute/path/file.yaml"},
		{"relative path", "/base/dir", "config/file.yaml", "/base/dir/config/file.yaml"},
		{"parent path", "/base/dir", "../data", "/base/data"},
		{"env var", "/base/dir", "${CHARTLAB_TEST_DIR}/file.yaml", "/base/dir/testvalue/file.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath(tt.base, tt.file))
		})
	}
}

func TestSection_Hydrate(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		section := &Section[string]{}
		err := section.Hydrate("/base", func(string) (*string, error) {
			t.Error("loader should not be called for empty file")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, section.Value)
	})

	t.Run("successful hydration", func(t *testing.T) {
		section := &Section[string]{File: "config.yaml"}
		expected := "test value"
		err := section.Hydrate("/base", func(path string) (*string, error) {
			assert.Equal(t, "/base/config.yaml", path)
			return &expected, nil
		})
		require.NoError(t, err)
		require.NotNil(t, section.Value)
		assert.Equal(t, expected, *section.Value)
		assert.Equal(t, "/base/config.yaml", section.File)
	})

	t.Run("loader error", func(t *testing.T) {
		section := &Section[string]{File: "missing.yaml"}
		err := section.Hydrate("/base", func(string) (*string, error) {
			return nil, errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, "missing.yaml", section.File)
	})
}

func TestProjectPath(t *testing.T) {
	p, err := ProjectPath("go.mod")
	require.NoError(t, err)
	assert.FileExists(t, p)
	assert.True(t, isRoot(filepath.Dir(p)))
}

func TestLoadDotenvFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHARTLAB_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("NO_DOTENV", "")
	t.Cleanup(func() { os.Unsetenv("CHARTLAB_DOTENV_PROBE") })

	loadDotenv()
	assert.Equal(t, "loaded", os.Getenv("CHARTLAB_DOTENV_PROBE"))
}
