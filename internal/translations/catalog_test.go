package translations_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/backbone/internal/translations"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := translations.Load(filepath.Join(t.TempDir(), "nope.json"), 0)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := writeCatalog(t, "")
	_, err := translations.Load(path, 0)
	assert.Error(t, err)
}

func TestLoadRejectsNonObjectTop(t *testing.T) {
	path := writeCatalog(t, `["not", "an", "object"]`)
	_, err := translations.Load(path, 0)
	assert.Error(t, err)
}

func TestLoadRejectsOversize(t *testing.T) {
	path := writeCatalog(t, `{"a": {"en-US": "hello"}}`)
	_, err := translations.Load(path, 1)
	assert.Error(t, err)
}

func TestLoadAndLookupWithFallback(t *testing.T) {
	path := writeCatalog(t, `{
		"commands": {
			"reset": {
				"en-US": "Are you sure you want to reset, {name}?",
				"fr": "Voulez-vous vraiment réinitialiser, {name} ?"
			}
		}
	}`)

	cat, err := translations.Load(path, 0)
	require.NoError(t, err)

	msg, ok := cat.Lookup("commands.reset", "fr", map[string]any{"name": "Alice"})
	assert.True(t, ok)
	assert.Equal(t, "Voulez-vous vraiment réinitialiser, Alice ?", msg)

	msg, ok = cat.Lookup("commands.reset", "de", map[string]any{"name": "Bob"})
	assert.True(t, ok, "should fall back to en-US")
	assert.Equal(t, "Are you sure you want to reset, Bob?", msg)
}

func TestLookupRejectsBadKeyShape(t *testing.T) {
	path := writeCatalog(t, `{"a": {"en-US": "x"}}`)
	cat, err := translations.Load(path, 0)
	require.NoError(t, err)

	_, ok := cat.Lookup("a; DROP TABLE", "en-US", nil)
	assert.False(t, ok)
}

func TestLookupMissingPlaceholderReturnsUnformatted(t *testing.T) {
	path := writeCatalog(t, `{"greet": {"en-US": "Hello, {name}!"}}`)
	cat, err := translations.Load(path, 0)
	require.NoError(t, err)

	msg, ok := cat.Lookup("greet", "en-US", nil)
	assert.True(t, ok)
	assert.Equal(t, "Hello, {name}!", msg)
}

func TestGetNestedValueRejectsDeepChains(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": map[string]any{"c": "leaf"}}}

	assert.Equal(t, "leaf", translations.GetNestedValue(data, []string{"a", "b", "c"}, 5))
	assert.Nil(t, translations.GetNestedValue(data, []string{"a", "b", "c", "d", "e", "f"}, 5))
	assert.Nil(t, translations.GetNestedValue(data, []string{"a", "missing"}, 5))
}

func TestSanitizeKwargs(t *testing.T) {
	out := translations.SanitizeKwargs(map[string]any{
		"name":       "Alice",
		"count":      3,
		"bad key!":   "dropped",
		"long_field": stringOfLen(300),
		"nested":     map[string]any{"x": 1},
	})

	assert.Equal(t, "Alice", out["name"])
	assert.Equal(t, "3", out["count"])
	assert.NotContains(t, out, "bad key!")
	assert.Len(t, out["long_field"], 200)
	assert.Equal(t, "map[string]interface {}", out["nested"])
}

func TestResolveEffectiveLocale(t *testing.T) {
	assert.Equal(t, "fr", translations.ResolveEffectiveLocale("fr", "de", "es-ES"))
	assert.Equal(t, "de", translations.ResolveEffectiveLocale("", "de", "es-ES"))
	assert.Equal(t, "es-ES", translations.ResolveEffectiveLocale("", "", "es-ES"))
	assert.Equal(t, "en-US", translations.ResolveEffectiveLocale("", "", ""))
	assert.Equal(t, "en-US", translations.ResolveEffectiveLocale("en", "", ""))
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
