// Package stakingfilter implements the Staking Filter (spec §4.7): a
// worker should only deliver on behalf of mechs whose service is staked in
// the same pool as this worker's own service. Grounded on the teacher's
// account-pool in-memory map (infrastructure/accountpool/marble/service.go)
// adapted from a write-behind rotation pool to a 5-minute TTL read-through
// cache with stale-on-error fallback.
package stakingfilter

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// DefaultTTL is the cache freshness window before a Resolve call re-queries
// the index.
const DefaultTTL = 5 * time.Minute

// StakedService is one row from the stakedServices query.
type StakedService struct {
	ServiceID string
	Owner     string
	Multisig  string
}

// MechServiceMapping is one row from the mechServiceMappings query.
type MechServiceMapping struct {
	Mech      string
	ServiceID string
}

// Index is the ledger-index query surface this filter needs. Implementations
// live outside this package (the Ponder-indexed GraphQL client).
type Index interface {
	StakedServices(ctx context.Context, stakingContract string) ([]StakedService, error)
	MechServiceMappings(ctx context.Context, serviceIDs []string) ([]MechServiceMapping, error)
}

type cacheEntry struct {
	mechs     []string
	fetchedAt time.Time
}

// Filter resolves the set of mechs staked in the same pool as this
// worker's service, cached per staking-contract address.
type Filter struct {
	index Index
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New constructs a Filter querying idx, with ttl (DefaultTTL if zero).
func New(idx Index, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{index: idx, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// Resolve returns the deduplicated set of mechs staked under
// stakingContract. On a query failure it falls back to the last-known
// value for that contract, if any; only returns an error when the query
// fails and no cached value exists.
func (f *Filter) Resolve(ctx context.Context, stakingContract string) ([]string, error) {
	if fresh, ok := f.freshCached(stakingContract); ok {
		return fresh, nil
	}

	mechs, err := f.query(ctx, stakingContract)
	if err != nil {
		if stale, ok := f.anyCached(stakingContract); ok {
			return stale, nil
		}
		return nil, err
	}

	f.mu.Lock()
	f.cache[stakingContract] = cacheEntry{mechs: mechs, fetchedAt: time.Now()}
	f.mu.Unlock()

	return mechs, nil
}

// GetRandomStakedMech selects one mech at random from the resolved set for
// stakingContract, or returns fallback if the set is empty or the query
// (with no usable stale cache) failed.
func (f *Filter) GetRandomStakedMech(ctx context.Context, stakingContract, fallback string) string {
	mechs, err := f.Resolve(ctx, stakingContract)
	if err != nil || len(mechs) == 0 {
		return fallback
	}
	return mechs[rand.Intn(len(mechs))]
}

func (f *Filter) freshCached(stakingContract string) ([]string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[stakingContract]
	if !ok || time.Since(entry.fetchedAt) > f.ttl {
		return nil, false
	}
	return entry.mechs, true
}

func (f *Filter) anyCached(stakingContract string) ([]string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[stakingContract]
	return entry.mechs, ok
}

func (f *Filter) query(ctx context.Context, stakingContract string) ([]string, error) {
	services, err := f.index.StakedServices(ctx, stakingContract)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, nil
	}

	serviceIDs := make([]string, len(services))
	for i, s := range services {
		serviceIDs[i] = s.ServiceID
	}

	mappings, err := f.index.MechServiceMappings(ctx, serviceIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mappings))
	var mechs []string
	for _, m := range mappings {
		if !seen[m.Mech] {
			seen[m.Mech] = true
			mechs = append(mechs, m.Mech)
		}
	}
	return mechs, nil
}
