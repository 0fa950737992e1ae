// Package registry provides in-memory implementations of two capabilities
// this module treats as external collaborators: a user registry with an
// access-control admin, and a static address blocklist. Production
// deployments back these with whatever the hosting runtime provides;
// these implementations exist so internal/scraper and cmd/bridgeminter
// compile and are end-to-end testable without one.
package registry

import (
	"sync"

	"github.com/erigontech/erigon-lib/common"
)

// Blocklist reports whether an address is barred from crediting deposits
// (internal/scraper.Blocklist matches this shape structurally).
type Blocklist struct {
	mu sync.RWMutex
	blocked map[common.Address]struct{}
}

// NewBlocklist returns a Blocklist seeded with the given addresses.
func NewBlocklist(addrs ...common.Address) *Blocklist {
	b := &Blocklist{blocked: make(map[common.Address]struct{}, len(addrs))}
	for _, a := range addrs {
		b.blocked[a] = struct{}{}
	}
	return b
}

// IsBlocked reports whether addr is barred.
func (b *Blocklist) IsBlocked(addr common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[addr]
	return ok
}

// Block adds addr to the blocklist, idempotently.
func (b *Blocklist) Block(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[addr] = struct{}{}
}

// Unblock removes addr from the blocklist, idempotently.
func (b *Blocklist) Unblock(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, addr)
}

// UserRegistry maps EVM addresses to the principal that registered them
// and back.
type UserRegistry struct {
	mu sync.RWMutex
	principalByAddr map[common.Address]string
	addrByPrincipal map[string]common.Address
	admin string
}

// NewUserRegistry returns an empty registry with admin as the sole account
// authorized to perform admin-gated operations.
func NewUserRegistry(admin string) *UserRegistry {
	return &UserRegistry{
		principalByAddr: make(map[common.Address]string),
		addrByPrincipal: make(map[string]common.Address),
		admin: admin,
	}
}

// Register associates addr with principal, overwriting any prior
// association for either side.
func (r *UserRegistry) Register(principal string, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.addrByPrincipal[principal]; ok {
		delete(r.principalByAddr, old)
	}
	r.principalByAddr[addr] = principal
	r.addrByPrincipal[principal] = addr
}

// LookupPrincipal returns the principal registered for addr, if any.
func (r *UserRegistry) LookupPrincipal(addr common.Address) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principalByAddr[addr]
	return p, ok
}

// LookupAddress returns the address registered for principal, if any.
func (r *UserRegistry) LookupAddress(principal string) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addrByPrincipal[principal]
	return a, ok
}

// IsAdmin reports whether principal is the configured admin.
func (r *UserRegistry) IsAdmin(principal string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return principal == r.admin
}

// SetAdmin replaces the configured admin, the effect of an Upgrade event
// that sets its optional Admin field.
func (r *UserRegistry) SetAdmin(admin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admin = admin
}
