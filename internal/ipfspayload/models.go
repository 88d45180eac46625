package ipfspayload

// universalTools are always available to every job regardless of its own
// enabledTools list.
var universalTools = []string{"read_file", "list_directory", "web_search"}

// codingOnlyTool is injected in addition to the universal set for jobs
// backed by a code repository.
const codingOnlyTool = "process_branch"

// deprecatedModels may never be dispatched, regardless of any allowedModels
// policy that would otherwise permit them.
var deprecatedModels = map[string]bool{
	"gpt-3.5-turbo":       true,
	"claude-1":            true,
	"claude-instant-1":    true,
	"text-davinci-003":    true,
}

func mergeUnique(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, t := range base {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// resolveAllowedModels cascades the parent workstream's model policy onto
// the job's own: an empty child policy inherits the parent's wholesale; a
// non-empty child policy is intersected against the parent's, so a child
// can only narrow, never widen, what its parent permits.
func resolveAllowedModels(childPolicy, parentPolicy []string) []string {
	if len(parentPolicy) == 0 {
		return childPolicy
	}
	if len(childPolicy) == 0 {
		return parentPolicy
	}
	permitted := make(map[string]bool, len(parentPolicy))
	for _, m := range parentPolicy {
		permitted[m] = true
	}
	var out []string
	for _, m := range childPolicy {
		if permitted[m] {
			out = append(out, m)
		}
	}
	return out
}

func isAllowed(model string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if m == model {
			return true
		}
	}
	return false
}
