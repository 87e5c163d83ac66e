package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckSchema(t *testing.T) {
	out, err := runRoot(t, "check-schema", "../../testdata/schema.json")
	require.NoError(t, err)
	assert.Contains(t, out, "root System")
}

func TestCheckSchema_BadRule(t *testing.T) {
	data, err := os.ReadFile("../../testdata/schema.json")
	require.NoError(t, err)
	broken := bytes.Replace(data, []byte(`"rules": [`), []byte(`"rules": [{"condition": "COUNT((", "message": "broken"},`), 1)
	require.NotEqual(t, data, broken, "fixture has no rules to break")

	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, broken, 0o600))

	_, err = runRoot(t, "check-schema", path)
	assert.Error(t, err)
}
