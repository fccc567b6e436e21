package browser

import "strings"

// axNode is the part of a computed accessibility node that role selectors
// look at. Both drivers read it from Accessibility.getFullAXTree.
type axNode struct {
	role    string
	name    string
	ignored bool
	backend int64
}

// matchRole returns the backend DOM node ids of the nodes whose role equals
// role and whose accessible name contains name, ignoring case and runs of
// whitespace. An empty name matches any node of the role. Ignored nodes and
// nodes without a DOM node are skipped. Ids keep tree order.
func matchRole(nodes []axNode, role, name string) []int64 {
	want := normalizeName(name)
	seen := make(map[int64]bool)

	var ids []int64
	for _, n := range nodes {
		if n.ignored || n.backend == 0 || n.role != role || seen[n.backend] {
			continue
		}
		if want != "" && !strings.Contains(normalizeName(n.name), want) {
			continue
		}
		seen[n.backend] = true
		ids = append(ids, n.backend)
	}
	return ids
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// settle turns the refs of the visible matches of a selector into the
// result of a wait for state: "" while the state does not hold.
func settle(state State, visible []string) string {
	if state == StateHidden {
		if len(visible) == 0 {
			return "hidden"
		}
		return ""
	}
	if len(visible) == 0 {
		return ""
	}
	return visible[0]
}
