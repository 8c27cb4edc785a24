package cache

import (
	"fmt"
	"strings"
)

// GenerateKey builds the composite key `category:arg1:arg2:...`, dropping
// nil arguments. Keys are opaque to every caller except the
// category-specific preload dispatch in maintenance.go.
func GenerateKey(category string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, category)
	for _, a := range args {
		if a == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, ":")
}
