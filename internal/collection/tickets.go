package collection

import (
	"sort"
	"sync"

	"github.com/uznikturbo/service/pkg/protocol"
)

// Tickets is the shared in-memory ticket set, keyed by id. Two
// producers mutate it: local request results (authoritative) and
// pushed notifications (best-effort). Both land via upsert-by-id —
// never a destructive full replace — so a push arriving between a
// request's send and its response is not lost.
type Tickets struct {
	mu   sync.RWMutex
	byID map[int]protocol.Ticket
}

// New creates an empty collection.
func New() *Tickets {
	return &Tickets{byID: make(map[int]protocol.Ticket)}
}

// Insert adds the ticket only when its id is absent. Returns whether
// it was added. Used for pushed creations, which must never regress
// state already confirmed by a local write.
func (c *Tickets) Insert(t protocol.Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[t.ID]; ok {
		return false
	}
	c.byID[t.ID] = t
	return true
}

// Upsert inserts or replaces by id, last write wins.
func (c *Tickets) Upsert(t protocol.Ticket) {
	c.mu.Lock()
	c.byID[t.ID] = t
	c.mu.Unlock()
}

// Delete removes a ticket. No-op when absent.
func (c *Tickets) Delete(id int) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

// Get returns a ticket by id.
func (c *Tickets) Get(id int) (protocol.Ticket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Len returns the number of tickets held.
func (c *Tickets) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// List returns a derived view sorted newest first. Sort order is a
// presentation concern, not a storage invariant.
func (c *Tickets) List() []protocol.Ticket {
	c.mu.RLock()
	result := make([]protocol.Ticket, 0, len(c.byID))
	for _, t := range c.byID {
		result = append(result, t)
	}
	c.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}
