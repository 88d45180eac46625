package ipfspayload

import "context"

// HierarchyLookup is the subset of the Ponder-indexed child hierarchy the
// Blueprint/Payload builders need: the full child tree for a job definition
// plus a short human-readable summary of it.
type HierarchyLookup struct {
	Hierarchy interface{}
	Summary   string
}

// HierarchyIndex fetches the child hierarchy for a job definition, as
// maintained by the ledger index the Request Lifecycle Engine polls.
// Implementations live outside this package (the index client); this
// interface keeps ipfspayload free of any transport dependency.
type HierarchyIndex interface {
	ChildHierarchy(ctx context.Context, jobDefinitionID string) (HierarchyLookup, error)
}

// noHierarchyIndex is used when the Builder is constructed without one:
// every lookup returns an empty result rather than failing the whole build,
// since the hierarchy is enrichment, not a hard payload dependency.
type noHierarchyIndex struct{}

func (noHierarchyIndex) ChildHierarchy(context.Context, string) (HierarchyLookup, error) {
	return HierarchyLookup{}, nil
}
