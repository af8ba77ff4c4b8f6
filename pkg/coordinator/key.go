package coordinator

import (
	"fmt"
	"sort"
	"strings"
)

// RequestKey builds the logical identity for a read. Requests with the
// same endpoint and parameters produce the same key regardless of
// parameter order, so they dedup and cache together.
//
// Format: endpoint segments joined by ":", then sorted key=value params.
//
// Example:
//
//	RequestKey("/products/42", map[string]string{"fields": "price"})
//	// "products:42:fields=price"
func RequestKey(endpoint string, params map[string]string) string {
	endpoint = strings.Trim(endpoint, "/")
	parts := strings.Split(endpoint, "/")

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
		}
	}

	return strings.Join(parts, ":")
}

// EntityMatcher returns a matcher accepting every request key that reads
// the entity: the bare entity key and all keys under "<entity>:". Passed
// to the cache's InvalidatePattern after a successful mutation.
func EntityMatcher(entity string) func(key string) bool {
	prefix := entity + ":"
	return func(key string) bool {
		return key == entity || strings.HasPrefix(key, prefix)
	}
}
