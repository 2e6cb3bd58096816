package cloudstack

import (
	"context"
	"maps"
)

// fetchAllPages reissues the call with increasing page numbers and
// concatenates the per-page entity lists. A page shorter than the page
// size, or an empty page, is the last one. Any error discards partial
// pages so the aggregated call stays all-or-nothing.
func (c *Client) fetchAllPages(ctx context.Context, cl *call, base map[string]string) (*Result, error) {
	pageSize := c.pageSize
	if v, ok := base["pagesize"]; ok {
		if n, ok := intValue(v); ok && n > 0 {
			pageSize = n
		}
	}

	var entities []any
	for page := 1; ; page++ {
		params := maps.Clone(base)
		params["page"] = itoa(page)

		paged := &call{
			command: cl.command,
			params:  params,
			headers: cl.headers,
			opcode:  cl.opcode,
			id:      cl.id,
		}
		data, err := c.roundTrip(ctx, paged)
		if err != nil {
			return nil, err
		}

		items := pageEntities(data)
		if len(items) == 0 {
			break
		}
		entities = append(entities, items...)
		if len(items) < pageSize {
			break
		}
	}
	if entities == nil {
		entities = []any{}
	}
	return &Result{value: entities}, nil
}

// pageEntities extracts the entity list of one page: the value of the
// single key that is not the count. Anything else means the page carries
// no entities.
func pageEntities(data map[string]any) []any {
	var key string
	for k := range data {
		if k == "count" {
			continue
		}
		if key != "" {
			return nil
		}
		key = k
	}
	if key == "" {
		return nil
	}
	items, _ := data[key].([]any)
	return items
}
