package delivery

import (
	"sort"
	"sync"
)

const DefaultBlockThreshold = 3

// CircuitBreaker blocks a recipient after consecutive delivery failures.
//
// A recipient is blocked exactly when its failure count reached the threshold.
// The next success (or an admin Reset) clears count and block together.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	fails     map[string]int
	blocked   map[string]struct{}
}

// BlockedRecipient is an admin view row.
type BlockedRecipient struct {
	Recipient string `json:"recipient"`
	Failures  int    `json:"failures"`
}

func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	return &CircuitBreaker{
		threshold: threshold,
		fails:     map[string]int{},
		blocked:   map[string]struct{}{},
	}
}

func (c *CircuitBreaker) IsBlocked(recipient string) bool {
	key := NormalizeRecipient(recipient)
	if key == "" {
		return false
	}
	c.mu.Lock()
	_, ok := c.blocked[key]
	c.mu.Unlock()
	return ok
}

// RecordFailure counts a failure and reports whether this call tripped the block.
func (c *CircuitBreaker) RecordFailure(recipient string) bool {
	key := NormalizeRecipient(recipient)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fails[key]++
	if c.fails[key] < c.threshold {
		return false
	}
	if _, already := c.blocked[key]; already {
		return false
	}
	c.blocked[key] = struct{}{}
	return true
}

func (c *CircuitBreaker) RecordSuccess(recipient string) {
	c.Reset(recipient)
}

// Reset clears the recipient's state; it reports whether the recipient was blocked.
func (c *CircuitBreaker) Reset(recipient string) bool {
	key := NormalizeRecipient(recipient)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, was := c.blocked[key]
	delete(c.blocked, key)
	delete(c.fails, key)
	return was
}

// Failures returns the current consecutive-failure count.
func (c *CircuitBreaker) Failures(recipient string) int {
	key := NormalizeRecipient(recipient)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fails[key]
}

// Blocked lists blocked recipients sorted by address.
func (c *CircuitBreaker) Blocked() []BlockedRecipient {
	c.mu.Lock()
	out := make([]BlockedRecipient, 0, len(c.blocked))
	for k := range c.blocked {
		out = append(out, BlockedRecipient{Recipient: k, Failures: c.fails[k]})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out
}
