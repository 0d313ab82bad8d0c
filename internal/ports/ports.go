// Package ports hands out host ports for new instances.
package ports

import (
	"context"
	"fmt"
	"sync"

	"github.com/polarfoxDev/wharf/internal/model"
)

// UsedPortsLister reports ports held by live instances
type UsedPortsLister interface {
	UsedPorts(ctx context.Context) (map[int]bool, error)
}

// Allocator scans [Min, Max] for a port that is neither persisted on a live
// instance nor reserved by another in-flight provisioning flow. The scan and
// the reservation happen under one mutex.
type Allocator struct {
	repo     UsedPortsLister
	min, max int

	mu       sync.Mutex
	reserved map[int]bool
}

func NewAllocator(repo UsedPortsLister, min, max int) *Allocator {
	return &Allocator{repo: repo, min: min, max: max, reserved: make(map[int]bool)}
}

// Reservation holds a port until the instance row is persisted or the flow fails
type Reservation struct {
	Port int

	a    *Allocator
	once sync.Once
}

// Release frees the in-process hold; calling it more than once is fine
func (r *Reservation) Release() {
	if r == nil || r.a == nil {
		return
	}
	r.once.Do(func() {
		r.a.mu.Lock()
		delete(r.a.reserved, r.Port)
		r.a.mu.Unlock()
	})
}

// Allocate returns the lowest free port or model.ErrResourceExhausted
func (a *Allocator) Allocate(ctx context.Context) (*Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used, err := a.repo.UsedPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list used ports: %w", err)
	}
	for p := a.min; p <= a.max; p++ {
		if used[p] || a.reserved[p] {
			continue
		}
		a.reserved[p] = true
		return &Reservation{Port: p, a: a}, nil
	}
	return nil, fmt.Errorf("no free port in %d-%d: %w", a.min, a.max, model.ErrResourceExhausted)
}

// Reserved returns how many ports are currently held in-process
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
