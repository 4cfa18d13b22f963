package paper

import "encoding/json"

// Node is one paper in a lineage tree. Cites holds the papers it references
// (backward expansion), CitedBy the papers citing it (forward expansion).
// A nil slice means the direction was not expanded and is omitted from JSON;
// an empty slice is rendered as [].
type Node struct {
	Record
	Cites   []*Node
	CitedBy []*Node
}

func NewNode(rec Record) *Node {
	return &Node{Record: rec}
}

func (n *Node) MarshalJSON() ([]byte, error) {
	type out struct {
		Record
		Cites   *[]*Node `json:"cites,omitempty"`
		CitedBy *[]*Node `json:"cited_by,omitempty"`
	}
	o := out{Record: n.Record}
	if n.Cites != nil {
		o.Cites = &n.Cites
	}
	if n.CitedBy != nil {
		o.CitedBy = &n.CitedBy
	}
	return json.Marshal(o)
}

// UnmarshalJSON reverses MarshalJSON. Without it the embedded Record's
// decoder would be promoted and drop both directions.
func (n *Node) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	var dirs struct {
		Cites   []*Node `json:"cites"`
		CitedBy []*Node `json:"cited_by"`
	}
	if err := json.Unmarshal(data, &dirs); err != nil {
		return err
	}
	*n = Node{Record: rec, Cites: dirs.Cites, CitedBy: dirs.CitedBy}
	return nil
}

// Depth is the longest path, in hops, below n along either direction.
func (n *Node) Depth() int {
	best := 0
	for _, children := range [][]*Node{n.Cites, n.CitedBy} {
		for _, c := range children {
			if d := c.Depth() + 1; d > best {
				best = d
			}
		}
	}
	return best
}
