package elasticsearch

import (
	"context"
	"log/slog"
)

// DefaultSuggestLimit applies when the caller passes a non-positive limit.
const DefaultSuggestLimit = 10

// Suggest returns distinct product names matching the prefix, best first.
// Query failures are logged and yield an empty list.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	// Fetch extra hits so duplicates do not starve the result.
	esResp, err := e.search(ctx, "suggest", buildSuggestQuery(prefix, limit*2))
	if err != nil {
		e.logger.WarnContext(ctx, "suggest query failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		return []string{}, nil
	}

	names := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range esResp.Hits.Hits {
		name := hit.Source.Name
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
		if len(names) == limit {
			break
		}
	}
	return names, nil
}
