package download

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket is the coordination record proving a download is in flight for a
// given asset.
type Ticket struct {
	AssetID   string
	RequestID string
	StartedAt time.Time
}

// Coordinator deduplicates concurrent fetches. Many cells can be instantiated
// for the same asset in rapid succession; without this gate the pipeline
// would issue redundant full-size network fetches.
type Coordinator struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

// NewCoordinator constructs an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{tickets: make(map[string]Ticket)}
}

// TryBegin records a ticket for the asset and returns true if no download is
// active. A false return means the download is in progress elsewhere; the
// caller must not fetch and should retry later.
func (c *Coordinator) TryBegin(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.tickets[assetID]; held {
		return false
	}
	c.tickets[assetID] = Ticket{
		AssetID:   assetID,
		RequestID: uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	return true
}

// Finish releases the ticket unconditionally. Callers must invoke it via
// defer on every path that obtained the ticket, including failure and
// cancellation, so a crashed download never wedges the asset permanently.
func (c *Coordinator) Finish(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tickets, assetID)
}

// Active returns a snapshot of in-flight tickets ordered by start time.
func (c *Coordinator) Active() []Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Ticket, 0, len(c.tickets))
	for _, ticket := range c.tickets {
		out = append(out, ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
