package marketplace

import (
	"context"
	"strings"
)

// Search returns records from every registry matching q. Text matches are
// case-insensitive substrings of name, description, id or author; category must
// be equal ignoring case; any one of the tags must be present.
func (c *Client) Search(ctx context.Context, q SearchQuery) []PluginRecord {
	return Filter(c.Records(ctx, false), q)
}

// Filter applies q to records, keeping their order
func Filter(records []PluginRecord, q SearchQuery) []PluginRecord {
	query := strings.ToLower(strings.TrimSpace(q.Query))
	category := strings.TrimSpace(q.Category)

	result := make([]PluginRecord, 0)
	for _, record := range records {
		if query != "" && !matchesText(record, query) {
			continue
		}
		if category != "" && !strings.EqualFold(record.Category, category) {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(record.Tags, q.Tags) {
			continue
		}
		result = append(result, record)
	}
	return result
}

func matchesText(record PluginRecord, query string) bool {
	for _, field := range []string{record.Name, record.Description, record.ID, record.Author} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
