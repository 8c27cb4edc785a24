// Package translations implements the JSON translation catalog: a
// dictionary-of-dictionaries loaded once at startup, exposing dotted-key +
// locale lookup with fallback to en-US.
package translations

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/guildforge/backbone/pkg/errs"
)

const (
	defaultLocale = "en-US"
	maxKeyDepth   = 5
	maxKeyLength  = 100
	maxKwargLen   = 200
)

var (
	keyPattern   = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	kwargPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Catalog is the opaque, load-once translation store. Callers never
// traverse the underlying map themselves; only Lookup and GetMessage do.
type Catalog struct {
	data map[string]any
}

// Load reads and validates a JSON catalog file from path. Any of: missing
// file, empty file, size over maxBytes, parse failure, or a non-object
// top-level value is an error, and startup must not proceed past one.
func Load(path string, maxBytes int64) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindTranslation, "open translation catalog", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.KindTranslation, "stat translation catalog", err)
	}
	if info.Size() == 0 {
		return nil, errs.New(errs.KindTranslation, "translation catalog is empty")
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, errs.New(errs.KindTranslation, fmt.Sprintf("translation catalog exceeds %d bytes", maxBytes))
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.Wrap(errs.KindTranslation, "read translation catalog", err)
	}

	var top any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, errs.Wrap(errs.KindTranslation, "parse translation catalog", err)
	}

	obj, ok := top.(map[string]any)
	if !ok {
		return nil, errs.New(errs.KindTranslation, "translation catalog is not a top-level JSON object")
	}
	if err := checkDepth(obj, 1); err != nil {
		return nil, err
	}

	return &Catalog{data: obj}, nil
}

func checkDepth(v any, depth int) error {
	if depth > maxKeyDepth {
		return errs.New(errs.KindTranslation, "translation catalog exceeds max depth")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, child := range m {
		if err := checkDepth(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// GetNestedValue traverses data by the dotted keys path, returning nil on a
// missing key or structural mismatch, and rejecting chains longer than
// maxDepth.
func GetNestedValue(data map[string]any, keys []string, maxDepth int) any {
	if len(keys) == 0 || len(keys) > maxDepth {
		return nil
	}

	var cur any = data
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, exists := m[k]
		if !exists {
			return nil
		}
		cur = v
	}
	return cur
}

// SanitizeKwargs retains only keys matching ^[A-Za-z_][A-Za-z0-9_]*$,
// stringifies scalar values (truncated at 200 chars), and replaces
// non-scalar values with their Go type name.
func SanitizeKwargs(kwargs map[string]any) map[string]string {
	out := make(map[string]string, len(kwargs))
	for k, v := range kwargs {
		if !kwargPattern.MatchString(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool, int, int32, int64, float32, float64:
		s = fmt.Sprintf("%v", val)
	default:
		s = fmt.Sprintf("%T", val)
	}
	if len(s) > maxKwargLen {
		s = s[:maxKwargLen]
	}
	return s
}

// Locale resolves a leaf dictionary's value for locale, falling back to
// en-US when the requested locale is absent.
func (c *Catalog) locale(leaf map[string]any, locale string) (string, bool) {
	if v, ok := leaf[locale]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	if v, ok := leaf[defaultLocale]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// Lookup validates key (dotted path, ^[A-Za-z0-9_.]+$, <=100 chars), splits
// on '.', traverses the catalog, and resolves locale with en-US fallback.
// A missing key or locale returns ("", false) rather than an error;
// callers log and fall back to an empty string.
func (c *Catalog) Lookup(key, locale string, params map[string]any) (string, bool) {
	if len(key) == 0 || len(key) > maxKeyLength || !keyPattern.MatchString(key) {
		return "", false
	}

	parts := strings.Split(key, ".")
	v := GetNestedValue(c.data, parts, maxKeyDepth)
	if v == nil {
		return "", false
	}

	leaf, ok := v.(map[string]any)
	if !ok {
		return "", false
	}

	template, ok := c.locale(leaf, locale)
	if !ok {
		return "", false
	}

	return formatTemplate(template, SanitizeKwargs(params)), true
}

// formatTemplate substitutes {name} placeholders; a missing placeholder
// leaves the template unformatted rather than erroring.
func formatTemplate(template string, params map[string]string) string {
	out := template
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, v)
		}
	}
	return out
}

// NormalizeLocale maps the bare "en" locale to "en-US"; every other locale
// passes through unchanged.
func NormalizeLocale(locale string) string {
	if locale == "en" {
		return defaultLocale
	}
	return locale
}
