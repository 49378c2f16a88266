package model

import (
	"encoding/json"
	"sort"
)

// Ordering is the causal relationship between two version vectors.
type Ordering int

const (
	// Equal means both vectors carry identical counters
	Equal Ordering = iota
	// Less means the first vector happens before the second
	Less
	// Greater means the first vector happens after the second
	Greater
	// Concurrent means neither vector dominates the other
	Concurrent
)

// String returns the ordering name
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "Equal"
	case Less:
		return "Less"
	case Greater:
		return "Greater"
	case Concurrent:
		return "Concurrent"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the ordering by name
func (o Ordering) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Mirror returns the ordering seen from the other side of a comparison.
func (o Ordering) Mirror() Ordering {
	switch o {
	case Less:
		return Greater
	case Greater:
		return Less
	default:
		return o
	}
}

// VersionVector maps a node id to the number of mutations that node has made
// to one entity. Absent nodes read as zero.
type VersionVector map[string]uint64

// NewVersionVector creates an empty version vector
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Get returns the counter for node, or 0 if the node is absent.
func (vv VersionVector) Get(nodeID string) uint64 {
	return vv[nodeID]
}

// Increment bumps the counter owned by nodeID by one.
func (vv VersionVector) Increment(nodeID string) {
	vv[nodeID]++
}

// Advance moves the counter owned by nodeID forward to at least floor, and
// always by at least one.
func (vv VersionVector) Advance(nodeID string, floor uint64) uint64 {
	next := vv[nodeID] + 1
	if floor > next {
		next = floor
	}
	vv[nodeID] = next
	return next
}

// Merge takes the coordinate-wise maximum of vv and other into vv.
func (vv VersionVector) Merge(other VersionVector) {
	for nodeID, counter := range other {
		if counter > vv[nodeID] {
			vv[nodeID] = counter
		}
	}
}

// Merged returns a new vector holding the coordinate-wise maximum of both.
func (vv VersionVector) Merged(other VersionVector) VersionVector {
	out := vv.Copy()
	out.Merge(other)
	return out
}

// Dominates reports whether every counter in other is <= the matching counter in vv.
func (vv VersionVector) Dominates(other VersionVector) bool {
	for nodeID, counter := range other {
		if vv[nodeID] < counter {
			return false
		}
	}
	return true
}

// Compare classifies the causal relationship of vv relative to other.
func (vv VersionVector) Compare(other VersionVector) Ordering {
	allBefore := true
	allAfter := true

	for _, nodeID := range unionKeys(vv, other) {
		a := vv[nodeID]
		b := other[nodeID]
		if a < b {
			allAfter = false
		} else if a > b {
			allBefore = false
		}
	}

	switch {
	case allBefore && allAfter:
		return Equal
	case allBefore:
		return Less
	case allAfter:
		return Greater
	default:
		return Concurrent
	}
}

// Copy returns a deep copy of the vector
func (vv VersionVector) Copy() VersionVector {
	out := make(VersionVector, len(vv))
	for nodeID, counter := range vv {
		out[nodeID] = counter
	}
	return out
}

// Nodes returns the node ids present in the vector, sorted.
func (vv VersionVector) Nodes() []string {
	nodes := make([]string, 0, len(vv))
	for nodeID := range vv {
		nodes = append(nodes, nodeID)
	}
	sort.Strings(nodes)
	return nodes
}

// MarshalJSON encodes the vector as a plain object. A nil vector encodes as {}.
func (vv VersionVector) MarshalJSON() ([]byte, error) {
	if vv == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]uint64(vv))
}

// UnmarshalJSON decodes a plain object of counters.
func (vv *VersionVector) UnmarshalJSON(data []byte) error {
	m := map[string]uint64{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*vv = VersionVector(m)
	return nil
}

func unionKeys(a, b VersionVector) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}
