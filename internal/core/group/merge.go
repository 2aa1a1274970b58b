package group

import (
	"sort"

	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/storage"
)

// CountField is the implicit per-group count key in merged results.
const CountField = "_count"

// SubgroupCountField carries the number of child groups on two-level nodes.
const SubgroupCountField = "_group_count"

// Node is one level of the hierarchical merged result. Leaf count equals the
// number of source rows for that key combination; an internal node's count is
// the sum of its children's counts.
type Node struct {
	// Key is the group-key value for this node.
	Key any

	// Count is the number of contributing source records.
	Count int64

	// Subgroups holds the inner-key children when two-level grouping is
	// active, sorted the same way as the outer level.
	Subgroups []*Node

	// Collected maps each collect field to its reduced value.
	Collected map[string]any

	// raw holds the unreduced contributing values per collect field.
	raw map[string][]any
}

// SubgroupCount returns the number of child groups.
func (n *Node) SubgroupCount() int { return len(n.Subgroups) }

// Merge turns raw grouped rows into a result tree: one level per group key,
// outer key first. Collect specs are applied bottom-up and every level is
// sorted independently. Merge is pure: it never mutates rows.
func Merge(rows []storage.GroupRow, q query.Query) ([]*Node, error) {
	keys := q.GroupKeys()
	var nodes []*Node
	switch len(keys) {
	case 0:
		return nil, nil
	case 1:
		nodes = leafNodes(rows, keys[0])
	default:
		nodes = nestedNodes(rows, keys[0], keys[1])
	}

	for _, n := range nodes {
		if err := n.applyCollect(q.Collect); err != nil {
			return nil, err
		}
	}

	sortLevel(nodes, q.SortBy, keys[0])
	if len(keys) > 1 {
		for _, n := range nodes {
			sortLevel(n.Subgroups, q.SortBy, keys[1])
		}
	}

	// Limit truncates the outer level only, after sorting.
	if q.Limit > 0 && len(nodes) > q.Limit {
		nodes = nodes[:q.Limit]
	}
	return nodes, nil
}

// leafNodes maps each raw row to one node. Rows are already unique per key
// combination when only one key is active.
func leafNodes(rows []storage.GroupRow, key string) []*Node {
	nodes := make([]*Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, &Node{
			Key:   row.Keys[key],
			Count: row.Count,
			raw:   copyRaw(row.Fields),
		})
	}
	return nodes
}

// nestedNodes buckets rows by the outer key, then builds one leaf per inner
// key within each bucket. The outer count is the sum of its children's.
func nestedNodes(rows []storage.GroupRow, outer, inner string) []*Node {
	byOuter := make(map[string]*Node)
	var order []string
	for _, row := range rows {
		fp := toString(row.Keys[outer])
		parent, ok := byOuter[fp]
		if !ok {
			parent = &Node{Key: row.Keys[outer]}
			byOuter[fp] = parent
			order = append(order, fp)
		}
		parent.Count += row.Count
		parent.Subgroups = append(parent.Subgroups, &Node{
			Key:   row.Keys[inner],
			Count: row.Count,
			raw:   copyRaw(row.Fields),
		})
	}

	nodes := make([]*Node, 0, len(order))
	for _, fp := range order {
		nodes = append(nodes, byOuter[fp])
	}
	return nodes
}

// applyCollect reduces each collect field bottom-up. An internal node reduces
// the concatenation of its descendants' raw lists.
func (n *Node) applyCollect(specs []query.Collect) error {
	for _, child := range n.Subgroups {
		if err := child.applyCollect(specs); err != nil {
			return err
		}
	}
	if len(specs) == 0 {
		return nil
	}

	n.Collected = make(map[string]any, len(specs))
	for _, spec := range specs {
		reduced, err := Reduce(n.rawValues(spec.Field), spec.Method)
		if err != nil {
			return err
		}
		n.Collected[spec.Field] = reduced
	}
	return nil
}

// rawValues returns this node's own raw list for a field, or the
// concatenation of all descendant lists for internal nodes.
func (n *Node) rawValues(field string) []any {
	if len(n.Subgroups) == 0 {
		return n.raw[field]
	}
	var out []any
	for _, child := range n.Subgroups {
		out = append(out, child.rawValues(field)...)
	}
	return out
}

// sortLevel orders one level of the tree. With no sort spec, nodes order by
// key ascending so results are deterministic across backends.
func sortLevel(nodes []*Node, sortBy *query.Sort, keyName string) {
	if sortBy == nil {
		sort.SliceStable(nodes, func(i, j int) bool {
			return CompareValues(nodes[i].Key, nodes[j].Key) < 0
		})
		return
	}

	desc := sortBy.Direction == query.Descending
	sort.SliceStable(nodes, func(i, j int) bool {
		c := CompareValues(
			nodes[i].sortValue(sortBy.Field, keyName),
			nodes[j].sortValue(sortBy.Field, keyName),
		)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// sortValue resolves the sort field against a node: the level's key name, the
// implicit _count, or a collected field. Unknown fields sort first.
func (n *Node) sortValue(field, keyName string) any {
	switch field {
	case keyName:
		return n.Key
	case CountField:
		return n.Count
	default:
		if v, ok := n.Collected[field]; ok {
			return v
		}
		return nil
	}
}

func copyRaw(fields map[string][]any) map[string][]any {
	if fields == nil {
		return nil
	}
	out := make(map[string][]any, len(fields))
	for k, v := range fields {
		out[k] = append([]any(nil), v...)
	}
	return out
}
