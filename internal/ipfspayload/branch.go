package ipfspayload

import "context"

// BranchResult records the branch decision made for a coding job, returned
// alongside the payload for downstream logging.
type BranchResult struct {
	BranchName string
	BaseBranch string
	Created    bool // false when reusing caller-supplied CodeMetadata
}

// BranchCreator creates a new job branch off base in repo. Implementations
// live outside this package (the code-hosting client); this interface keeps
// ipfspayload free of any VCS transport dependency.
type BranchCreator interface {
	CreateBranch(ctx context.Context, repoURL, base string) (BranchResult, error)
}

// defaultBaseBranch is the base of a coding job's branch when the dispatch
// context carries no parent branch. Build takes no per-job baseBranch, and
// this default is not configurable.
const defaultBaseBranch = "main"
