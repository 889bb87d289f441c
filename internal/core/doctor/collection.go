package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/daybook/internal/core/todo"
)

// Documents reads and deletes raw documents in one namespace.
type Documents interface {
	List(ctx context.Context, maxAge time.Duration) ([]string, error)
	Get(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool, error)
	Delete(ctx context.Context, key string) error
}

// CollectionCheck reads every document fresh from the store and reports
// documents that are undecodable or hold invalid items. With autofix, those
// documents are deleted.
type CollectionCheck struct {
	docs    Documents
	autofix bool
	now     func() time.Time
}

// NewCollectionCheck creates a new collection check.
func NewCollectionCheck(docs Documents, autofix bool) *CollectionCheck {
	return &CollectionCheck{docs: docs, autofix: autofix, now: time.Now}
}

func (c *CollectionCheck) Name() string { return "Collection" }

func (c *CollectionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	keys, err := c.docs.List(ctx, 0)
	if err != nil {
		result.add("store", StatusFail, err.Error())
		return result
	}
	result.add("store", StatusPass, fmt.Sprintf("%d documents", len(keys)))

	var items, completed int
	for _, key := range keys {
		id, ok := todo.IDFromKey(key)
		if !ok {
			continue
		}
		body, found, err := c.docs.Get(ctx, key, 0)
		if err != nil {
			result.add(key, StatusFail, err.Error())
			continue
		}
		if !found {
			continue
		}

		item, err := todo.Unmarshal(id, body, c.now())
		if err != nil {
			c.broken(ctx, &result, key, "undecodable, skipped on load")
			continue
		}
		if err := item.Validate(); err != nil {
			c.broken(ctx, &result, key, "invalid: "+err.Error())
			continue
		}

		items++
		if item.Completed {
			completed++
		}
	}

	result.add("items", StatusPass, fmt.Sprintf("%d items, %d completed", items, completed))
	return result
}

func (c *CollectionCheck) broken(ctx context.Context, result *Result, key, reason string) {
	if !c.autofix {
		result.Items = append(result.Items, CheckItem{
			Label:   key,
			Status:  StatusWarn,
			Detail:  reason,
			Fixable: true,
		})
		return
	}

	if err := c.docs.Delete(ctx, key); err != nil {
		result.add(key, StatusFail, fmt.Sprintf("delete failed: %v", err))
		return
	}
	result.add(key, StatusPass, "deleted")
}
