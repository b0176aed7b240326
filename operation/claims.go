package operation

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ClaimTable records which owner holds each operation across ticks. At most one owner holds a
// given operation; taking over requires the previous holder to Release first.
type ClaimTable struct {
	mu      sync.Mutex
	holders map[ID]Owner
}

// NewClaimTable returns an empty claim table.
func NewClaimTable() *ClaimTable {
	return &ClaimTable{holders: make(map[ID]Owner)}
}

// Conflicts returns the owners other than owner that hold any of ids, sorted.
func (c *ClaimTable) Conflicts(owner Owner, ids []ID) []Owner {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[Owner]struct{}{}
	for _, id := range ids {
		if holder, ok := c.holders[id]; ok && holder != owner {
			seen[holder] = struct{}{}
		}
	}
	out := make([]Owner, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Acquire gives owner every operation in ids. It fails without side effects if any is held by
// someone else.
func (c *ClaimTable) Acquire(owner Owner, ids []ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if holder, ok := c.holders[id]; ok && holder != owner {
			return errors.Wrapf(ErrNotOwner, "%q is held by %q", id, holder)
		}
	}
	for _, id := range ids {
		c.holders[id] = owner
	}
	return nil
}

// Release drops every claim owner holds and returns the released operations.
func (c *ClaimTable) Release(owner Owner) []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var released []ID
	for id, holder := range c.holders {
		if holder == owner {
			released = append(released, id)
			delete(c.holders, id)
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i].String() < released[j].String() })
	return released
}

// Holder returns the owner holding id, if any.
func (c *ClaimTable) Holder(id ID) (Owner, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.holders[id]
	return o, ok
}

// Claimed reports whether any owner holds id.
func (c *ClaimTable) Claimed(id ID) bool {
	_, ok := c.Holder(id)
	return ok
}

// Len returns the number of claimed operations.
func (c *ClaimTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders)
}
