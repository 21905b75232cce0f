package revdb

import (
	"slices"
)

// DefaultMaxRevTreeDepth is how many generations compaction keeps per branch.
const DefaultMaxRevTreeDepth = 20

// docRecord is the stored form of a document: its revision tree plus
// document-level state. Bodies live in bodiesBucket.
type docRecord struct {
	Revs []revNode `msgpack:"r"`
	Seq  uint64    `msgpack:"s"`
	Exp  Expiry    `msgpack:"x"`
}

// revNode is one revision in the tree. Parent is an index into Revs, or -1
// for a root.
type revNode struct {
	RevID    RevID         `msgpack:"i"`
	Parent   int           `msgpack:"p"`
	Seq      uint64        `msgpack:"s"`
	Flags    RevisionFlags `msgpack:"f"`
	BodySize int           `msgpack:"z"`
	HasBody  bool          `msgpack:"b"`
}

func (n *revNode) isLeaf() bool    { return n.Flags.Contains(RevLeaf) }
func (n *revNode) isDeleted() bool { return n.Flags.Contains(RevDeleted) }
func (n *revNode) isActive() bool  { return n.isLeaf() && !n.isDeleted() }

// outranks implements the current-revision tie-break: leaves first, then
// live revisions, then the higher revision ID.
func (n *revNode) outranks(o *revNode) bool {
	if n.isLeaf() != o.isLeaf() {
		return n.isLeaf()
	}
	if n.isDeleted() != o.isDeleted() {
		return !n.isDeleted()
	}
	return CompareRevIDs(n.RevID, o.RevID) > 0
}

func (d *docRecord) find(revID RevID) int {
	for i := range d.Revs {
		if d.Revs[i].RevID == revID {
			return i
		}
	}
	return -1
}

func (d *docRecord) current() int {
	best := -1
	for i := range d.Revs {
		if best < 0 || d.Revs[i].outranks(&d.Revs[best]) {
			best = i
		}
	}
	return best
}

func (d *docRecord) currentNode() *revNode {
	i := d.current()
	if i < 0 {
		return nil
	}
	return &d.Revs[i]
}

func (d *docRecord) isConflicted() bool {
	var n int
	for i := range d.Revs {
		if d.Revs[i].isActive() {
			n++
		}
	}
	return n > 1
}

// isLive reports whether the document counts towards DocumentCount.
func (d *docRecord) isLive() bool {
	cur := d.currentNode()
	return cur != nil && !cur.isDeleted()
}

// insert adds n as a child of parent (or as a root when parent is -1) and
// returns its index.
func (d *docRecord) insert(n revNode, parent int) int {
	if parent >= 0 {
		d.Revs[parent].Flags &^= RevLeaf
	}
	n.Parent = parent
	n.Flags |= RevLeaf
	d.Revs = append(d.Revs, n)
	return len(d.Revs) - 1
}

func (d *docRecord) parentRevID(i int) RevID {
	if p := d.Revs[i].Parent; p >= 0 {
		return d.Revs[p].RevID
	}
	return ""
}

// history returns the revision IDs from i back to its root.
func (d *docRecord) history(i int) []RevID {
	var out []RevID
	for ; i >= 0; i = d.Revs[i].Parent {
		out = append(out, d.Revs[i].RevID)
	}
	return out
}

// prune drops every revision more than maxDepth generations away from all
// leaves. Surviving revisions whose parent is dropped become roots.
func (d *docRecord) prune(maxDepth int) []revNode {
	n := len(d.Revs)
	if maxDepth <= 0 || n <= maxDepth {
		return nil
	}
	keep := make([]bool, n)
	for i := range d.Revs {
		if !d.Revs[i].isLeaf() {
			continue
		}
		for j, depth := i, 0; j >= 0 && depth < maxDepth; j, depth = d.Revs[j].Parent, depth+1 {
			keep[j] = true
		}
	}

	remap := make([]int, n)
	var kept []revNode
	var pruned []revNode
	for i := range d.Revs {
		if keep[i] {
			remap[i] = len(kept)
			kept = append(kept, d.Revs[i])
		} else {
			remap[i] = -1
			pruned = append(pruned, d.Revs[i])
		}
	}
	if len(pruned) == 0 {
		return nil
	}
	for i := range kept {
		if p := kept[i].Parent; p >= 0 {
			kept[i].Parent = remap[p]
		}
	}
	d.Revs = kept
	return pruned
}

// sortedByPriority returns node indexes ordered current-first.
func (d *docRecord) sortedByPriority() []int {
	idxs := make([]int, len(d.Revs))
	for i := range idxs {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		switch {
		case d.Revs[a].outranks(&d.Revs[b]):
			return -1
		case d.Revs[b].outranks(&d.Revs[a]):
			return 1
		default:
			return 0
		}
	})
	return idxs
}

func (d *docRecord) info(docID string) *DocumentInfo {
	info := &DocumentInfo{
		DocID:      docID,
		Sequence:   d.Seq,
		Flags:      DocExists,
		Expiration: d.Exp,
	}
	cur := d.currentNode()
	if cur == nil {
		return info
	}
	info.RevID = cur.RevID
	info.BodySize = cur.BodySize
	if cur.isDeleted() {
		info.Flags |= DocDeleted
	}
	if cur.Flags.Contains(RevHasAttachments) {
		info.Flags |= DocHasAttachments
	}
	if d.isConflicted() {
		info.Flags |= DocConflicted
	}
	return info
}

// revision returns node i's metadata without a body.
func (d *docRecord) revision(docID string, i int) *Revision {
	n := &d.Revs[i]
	flags := n.Flags
	if n.isActive() && i != d.current() {
		flags |= RevIsConflict
	}
	return &Revision{
		DocID:       docID,
		RevID:       n.RevID,
		ParentRevID: d.parentRevID(i),
		Sequence:    n.Seq,
		Flags:       flags,
		BodySize:    n.BodySize,
		available:   n.HasBody,
	}
}
