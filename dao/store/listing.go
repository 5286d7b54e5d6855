package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"B2P/task"
)

// StatusPage is one page of task statuses, most recently updated first.
type StatusPage struct {
	Tasks      []task.Status `json:"tasks"`
	NextCursor string        `json:"next_cursor"` // empty when there is nothing more
	HasMore    bool          `json:"has_more"`
	Total      int           `json:"total"`
	PageSize   int           `json:"page_size"`
}

// StatusLister pages over every known task. cursor is the opaque
// NextCursor of the previous page, empty for the first one.
type StatusLister interface {
	ListStatuses(ctx context.Context, cursor string, pageSize int) (*StatusPage, error)
}

// paginate sorts statuses newest first and cuts the page at the offset
// encoded in cursor. pageSize 0 means the default of 10.
func paginate(statuses []task.Status, cursor string, pageSize int) (*StatusPage, error) {
	if pageSize == 0 {
		pageSize = 10
	}
	if pageSize < 0 || pageSize > 100 {
		return nil, fmt.Errorf("page_size must be between 1 and 100")
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].UpdatedAt != statuses[j].UpdatedAt {
			return statuses[i].UpdatedAt > statuses[j].UpdatedAt
		}
		return statuses[i].Task < statuses[j].Task
	})

	total := len(statuses)
	if offset > total {
		offset = total
	}
	end := offset + pageSize
	hasMore := end < total
	if end > total {
		end = total
	}

	page := &StatusPage{
		Tasks:    statuses[offset:end],
		HasMore:  hasMore,
		Total:    total,
		PageSize: pageSize,
	}
	if hasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryStore) ListStatuses(ctx context.Context, cursor string, pageSize int) (*StatusPage, error) {
	m.mu.RLock()
	all := make([]task.Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		all = append(all, s)
	}
	m.mu.RUnlock()
	return paginate(all, cursor, pageSize)
}

// ListStatuses SCANs every status key. Keys that expire between SCAN and
// MGET are skipped.
func (r *RedisStore) ListStatuses(ctx context.Context, cursor string, pageSize int) (*StatusPage, error) {
	var (
		keys       []string
		scanCursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, scanCursor, statusKey("*"), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan status keys: %w", err)
		}
		keys = append(keys, batch...)
		scanCursor = next
		if scanCursor == 0 {
			break
		}
	}

	all := make([]task.Status, 0, len(keys))
	if len(keys) > 0 {
		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("read status keys: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var s task.Status
			if err := json.Unmarshal([]byte(raw), &s); err != nil {
				continue
			}
			if s.Task == "" {
				s.Task = taskFromStatusKey(keys[i])
			}
			all = append(all, s)
		}
	}
	return paginate(all, cursor, pageSize)
}

func taskFromStatusKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, "b2p:task:"), ":status")
}
