package workflow

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	registry := Default()

	tmpl, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "standard", tmpl.ID)
	assert.Equal(t, "PENDING", tmpl.Initial())
	assert.True(t, tmpl.IsTerminal("DONE"))
	assert.False(t, tmpl.IsTerminal("IN_REVIEW"))
	assert.Equal(t, "In Progress", tmpl.Label("IN_PROGRESS"))
	assert.Equal(t, "UNKNOWN", tmpl.Label("UNKNOWN"))

	_, ok := registry.Get("bug")
	assert.True(t, ok)
	_, err = registry.Resolve("missing")
	assert.Error(t, err)
}

func TestParseRejectsInvalidTemplates(t *testing.T) {
	cases := map[string]string{
		"empty":              `templates: []`,
		"terminal missing":   "templates:\n  - id: a\n    terminal: Z\n    states:\n      - key: A\n",
		"duplicate state":    "templates:\n  - id: a\n    terminal: A\n    states:\n      - key: A\n      - key: A\n",
		"unknown default":    "default: b\ntemplates:\n  - id: a\n    terminal: A\n    states:\n      - key: A\n",
		"duplicate template": "templates:\n  - id: a\n    terminal: A\n    states:\n      - key: A\n  - id: a\n    terminal: A\n    states:\n      - key: A\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	doc := "templates:\n  - id: simple\n    terminal: DONE\n    states:\n      - key: TODO\n      - key: DONE\n        label: Finished\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	registry, err := Load(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, "simple", registry.DefaultID())

	tmpl, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "TODO", tmpl.Label("TODO"))
	assert.Equal(t, "Finished", tmpl.Label("DONE"))
	assert.Equal(t, 1, tmpl.States[1].Order)
}
