package store

import (
	"context"
	"sort"
)

// neighborFunc returns the ids adjacent to id in either edge direction.
type neighborFunc func(ctx context.Context, id string) ([]string, error)

// walkComponent collects the weakly connected component containing startID
// with an explicit stack, so deep ownership chains cannot exhaust the call
// stack. The result is sorted and always contains startID.
func walkComponent(ctx context.Context, startID string, neighbors neighborFunc) ([]string, error) {
	visited := make(map[string]struct{})
	stack := []string{startID}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}

		next, err := neighbors(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, id := range next {
			if _, ok := visited[id]; !ok {
				stack = append(stack, id)
			}
		}
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// nullIfEmpty maps an absent optional string to SQL NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
