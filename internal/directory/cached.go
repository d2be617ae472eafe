package directory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached keeps recently resolved people in an LRU. Role listings always go
// to the source so newly registered doctors show up immediately.
type Cached struct {
	source Directory
	cache  *lru.Cache[string, Person]
}

func NewCached(source Directory, size int) (*Cached, error) {
	cache, err := lru.New[string, Person](size)
	if err != nil {
		return nil, fmt.Errorf("create directory cache: %w", err)
	}
	return &Cached{source: source, cache: cache}, nil
}

func (c *Cached) ListByRole(ctx context.Context, role Role) ([]Person, error) {
	people, err := c.source.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for _, p := range people {
		c.cache.Add(p.ID, p)
	}
	return people, nil
}

func (c *Cached) Get(ctx context.Context, id string) (Person, error) {
	if p, ok := c.cache.Get(id); ok {
		return p, nil
	}
	p, err := c.source.Get(ctx, id)
	if err != nil {
		return Person{}, err
	}
	c.cache.Add(id, p)
	return p, nil
}
