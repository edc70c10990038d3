package backup

import (
	"encoding/json"
	"reflect"

	"github.com/guardian-mrv/policyengine/policy/store"
)

// Snapshot is a point-in-time capture of a policy's monitored
// collections: document ids to field blobs, per collection.
type Snapshot struct {
	Collections map[string]map[string]map[string]interface{} `json:"collections"`
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Collections: make(map[string]map[string]map[string]interface{})}
}

// Put records one document into the snapshot.
func (s *Snapshot) Put(collection string, doc store.Document) {
	if s.Collections[collection] == nil {
		s.Collections[collection] = make(map[string]map[string]interface{})
	}
	s.Collections[collection][doc.ID] = doc.Fields
}

// Clone deep-copies the snapshot via a JSON round trip.
func (s *Snapshot) Clone() (*Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.Collections == nil {
		out.Collections = make(map[string]map[string]map[string]interface{})
	}
	return &out, nil
}

// Diff is the incremental change set between two snapshots.
type Diff struct {
	// Added and Updated map collection to changed documents.
	Added   map[string]map[string]map[string]interface{} `json:"added,omitempty"`
	Updated map[string]map[string]map[string]interface{} `json:"updated,omitempty"`

	// Removed maps collection to deleted document ids.
	Removed map[string][]string `json:"removed,omitempty"`
}

// Empty reports whether the diff carries no changes.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// ComputeDiff produces the change set that transforms prev into next.
//
// Documents are compared structurally after the snapshots' own JSON
// normalization, so key order and numeric representation do not produce
// spurious updates.
func ComputeDiff(prev, next *Snapshot) *Diff {
	d := &Diff{
		Added:   make(map[string]map[string]map[string]interface{}),
		Updated: make(map[string]map[string]map[string]interface{}),
		Removed: make(map[string][]string),
	}

	for collection, nextDocs := range next.Collections {
		prevDocs := prev.Collections[collection]
		for id, fields := range nextDocs {
			prevFields, existed := prevDocs[id]
			switch {
			case !existed:
				if d.Added[collection] == nil {
					d.Added[collection] = make(map[string]map[string]interface{})
				}
				d.Added[collection][id] = fields
			case !reflect.DeepEqual(prevFields, fields):
				if d.Updated[collection] == nil {
					d.Updated[collection] = make(map[string]map[string]interface{})
				}
				d.Updated[collection][id] = fields
			}
		}
	}

	for collection, prevDocs := range prev.Collections {
		nextDocs := next.Collections[collection]
		for id := range prevDocs {
			if _, still := nextDocs[id]; !still {
				d.Removed[collection] = append(d.Removed[collection], id)
			}
		}
	}

	return d
}

// ApplyDiff replays a change set onto a base snapshot, returning the
// reconstructed snapshot. The base is not mutated.
//
// ApplyDiff(prev, ComputeDiff(prev, next)) is equivalent to next.
func ApplyDiff(base *Snapshot, d *Diff) (*Snapshot, error) {
	out, err := base.Clone()
	if err != nil {
		return nil, err
	}

	for _, changes := range []map[string]map[string]map[string]interface{}{d.Added, d.Updated} {
		for collection, docs := range changes {
			if out.Collections[collection] == nil {
				out.Collections[collection] = make(map[string]map[string]interface{})
			}
			for id, fields := range docs {
				out.Collections[collection][id] = fields
			}
		}
	}

	for collection, ids := range d.Removed {
		for _, id := range ids {
			delete(out.Collections[collection], id)
		}
	}

	return out, nil
}
