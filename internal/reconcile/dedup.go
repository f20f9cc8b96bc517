package reconcile

import "sync"

// DedupIndex maps external item identity to internal record identity for the
// duration of one sync run. It is rebuilt fresh from durable storage at the
// start of each run and is the single source of truth within the run: storage
// is not re-queried to decide whether an external ID has already been seen.
//
// Safe for concurrent use; the item loop runs on a worker pool.
type DedupIndex struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewDedupIndex builds an index from already-linked records
// (externalID -> recordID).
func NewDedupIndex(linked map[string]string) *DedupIndex {
	m := make(map[string]string, len(linked))
	for externalID, recordID := range linked {
		m[externalID] = recordID
	}
	return &DedupIndex{m: m}
}

// Lookup returns the internal record ID for an external ID, if known
func (idx *DedupIndex) Lookup(externalID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	recordID, ok := idx.m[externalID]
	return recordID, ok
}

// Insert records a new mapping. Called immediately after a record is created
// or promoted so duplicate appearances of the same external ID later in the
// batch become metrics-only updates.
func (idx *DedupIndex) Insert(externalID, recordID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.m[externalID] = recordID
}

// Len returns the number of known mappings
func (idx *DedupIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.m)
}
