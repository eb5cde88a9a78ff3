package stepgraph

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// DefaultMaxDepth is the authoring policy: steps may own sub-steps, sub-steps
// may not own further sub-steps.
const DefaultMaxDepth = 1

// Store is the single source of truth for a step document. It owns a flat
// arena of nodes, the ordered top-level sequence, the explicit connections,
// the selection and the position cursor.
//
// Every exported mutation runs to completion and leaves all invariants
// holding before it returns; an operation that fails validation changes
// nothing. Store is not safe for concurrent use; callers serialize access.
type Store struct {
	nodes      map[NodeID]*Node
	roots      []NodeID
	conns      *ConnectionRegistry
	selected   NodeID
	cursor     Vec3
	viewerMode bool

	alloc    PositionAllocator
	palette  Palette
	maxDepth int
	newID    func() string
	log      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLayout sets the spacing used for new nodes.
func WithLayout(l Layout) Option {
	return func(s *Store) { s.alloc.Layout = l }
}

// WithMaxDepth sets how many levels of sub-steps AddSubStep may create.
func WithMaxDepth(depth int) Option {
	return func(s *Store) { s.maxDepth = depth }
}

// WithIDGenerator replaces the random id source. Generated ids must be unique.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger used for mutation tracing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:    make(map[NodeID]*Node),
		conns:    NewConnectionRegistry(),
		alloc:    PositionAllocator{Layout: DefaultLayout()},
		maxDepth: DefaultMaxDepth,
		newID:    uuid.NewString,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// freshNodeID returns a generated id not already in the arena.
func (s *Store) freshNodeID() NodeID {
	for {
		id := NodeID(s.newID())
		if _, taken := s.nodes[id]; !taken && !id.IsZero() {
			return id
		}
	}
}

func (s *Store) freshConnectionID() ConnectionID {
	for {
		id := ConnectionID(s.newID())
		if _, taken := s.conns.Get(id); !taken && id != "" {
			return id
		}
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Node returns a copy of the node with the given id.
func (s *Store) Node(id NodeID) (Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// Has reports whether a node exists.
func (s *Store) Has(id NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

// Steps returns copies of the top-level steps in order.
func (s *Store) Steps() []Node {
	return lo.Map(s.roots, func(id NodeID, _ int) Node { return *s.nodes[id].clone() })
}

// StepIDs returns the top-level order.
func (s *Store) StepIDs() []NodeID {
	return slices.Clone(s.roots)
}

// Children returns copies of the direct children of id in order.
func (s *Store) Children(id NodeID) []Node {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	return lo.Map(n.Children, func(cid NodeID, _ int) Node { return *s.nodes[cid].clone() })
}

// NodeCount returns the number of nodes at every depth.
func (s *Store) NodeCount() int {
	return len(s.nodes)
}

// Connections returns a copy of the explicit connections.
func (s *Store) Connections() []Connection {
	return s.conns.List()
}

// Connection returns the connection with the given id.
func (s *Store) Connection(id ConnectionID) (Connection, bool) {
	return s.conns.Get(id)
}

// Selected returns the selected node id, or the zero id.
func (s *Store) Selected() NodeID {
	return s.selected
}

// Cursor returns the position the next top-level step will receive.
func (s *Store) Cursor() Vec3 {
	return s.cursor
}

// ViewerMode reports whether the document is in read-only viewing mode.
func (s *Store) ViewerMode() bool {
	return s.viewerMode
}

// Layout returns the spacing in use.
func (s *Store) Layout() Layout {
	return s.alloc.Layout
}

// Depth returns how many ancestors id has (0 for a top-level step).
func (s *Store) Depth(id NodeID) int {
	depth := 0
	for n := s.nodes[id]; n != nil && !n.ParentID.IsZero(); n = s.nodes[n.ParentID] {
		depth++
	}
	return depth
}

// SelectedPosition resolves the position of the selected node. Top-level
// steps are searched first, then each step's sub-steps in order.
func (s *Store) SelectedPosition() (Vec3, bool) {
	if s.selected.IsZero() {
		return Vec3{}, false
	}
	for _, id := range s.roots {
		if id == s.selected {
			return s.nodes[id].Position, true
		}
	}
	for _, id := range s.roots {
		for _, cid := range s.nodes[id].Children {
			if cid == s.selected {
				return s.nodes[cid].Position, true
			}
		}
	}
	// Deeper nodes only exist in loaded documents.
	if n, ok := s.nodes[s.selected]; ok {
		return n.Position, true
	}
	return Vec3{}, false
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

// AddStep appends a new step at the cursor, advances the cursor and selects
// the step. It returns the new id.
func (s *Store) AddStep() NodeID {
	pos, next := s.alloc.Step(s.cursor)
	n := &Node{
		ID:       s.freshNodeID(),
		Title:    fmt.Sprintf("Step %d", len(s.roots)+1),
		Shape:    ShapeCube,
		Color:    s.palette.Next(),
		Size:     1,
		Position: pos,
	}
	s.nodes[n.ID] = n
	s.roots = append(s.roots, n.ID)
	s.cursor = next
	s.selected = n.ID
	s.log.Debug("step added", "id", n.ID, "x", pos.X)
	return n.ID
}

// UpdateStep merges patch into the top-level step id. An unknown id is a
// no-op. An invalid patch is rejected with a ValidationError and nothing
// changes.
func (s *Store) UpdateStep(id NodeID, patch NodePatch) error {
	n, ok := s.nodes[id]
	if !ok || !n.IsStep() {
		return nil
	}
	return s.applyPatch(n, patch)
}

// DeleteStep removes the step id together with its sub-steps. Connections
// are resolved by ConnectionRegistry.Detach. If the selection was inside the
// removed subtree it moves to the step now occupying the same index, else
// to the preceding step, else it is cleared. An unknown id is a no-op.
func (s *Store) DeleteStep(id NodeID) {
	n, ok := s.nodes[id]
	if !ok || !n.IsStep() {
		return
	}
	idx := slices.Index(s.roots, id)
	removed := s.collect(id)

	s.roots = slices.Delete(s.roots, idx, idx+1)
	for _, rid := range removed {
		delete(s.nodes, rid)
	}
	dropped := s.conns.Detach(removed)

	if !s.selected.IsZero() && !s.Has(s.selected) {
		switch {
		case idx < len(s.roots):
			s.selected = s.roots[idx]
		case idx > 0:
			s.selected = s.roots[idx-1]
		default:
			s.selected = ""
		}
	}
	s.log.Debug("step deleted", "id", id, "nodes", len(removed), "connections_dropped", len(dropped))
}

// collect returns id and all its descendants, parents before children.
func (s *Store) collect(id NodeID) []NodeID {
	out := []NodeID{id}
	for _, cid := range s.nodes[id].Children {
		out = append(out, s.collect(cid)...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Sub-steps
// ---------------------------------------------------------------------------

// AddSubStep appends a sub-step to parentID and selects it. The position is
// the parent's, dropped by SubStepDrop and shifted by the sibling count
// times SubStepLateral. When a sibling already occupies that slot (after an
// earlier sibling was deleted) the next free slot is used. An unknown parent
// is a no-op returning the zero id. A parent already at the depth limit
// yields a ValidationError.
func (s *Store) AddSubStep(parentID NodeID) (NodeID, error) {
	parent, ok := s.nodes[parentID]
	if !ok {
		return "", nil
	}
	if s.Depth(parentID) >= s.maxDepth {
		return "", ValidationError{
			NodeID:  parentID,
			Field:   "parent",
			Message: fmt.Sprintf("sub-steps may be nested at most %d level(s) deep", s.maxDepth),
		}
	}

	count := len(parent.Children)
	slot := count
	for s.slotTaken(parent, slot) {
		slot++
	}
	n := &Node{
		ID:       s.freshNodeID(),
		ParentID: parentID,
		Title:    fmt.Sprintf("Substep %d", count+1),
		Shape:    ShapeCube,
		Color:    s.palette.Next(),
		Size:     1,
		Position: s.alloc.SubStep(parent.Position, slot),
	}
	s.nodes[n.ID] = n
	parent.Children = append(parent.Children, n.ID)
	s.selected = n.ID
	s.log.Debug("substep added", "id", n.ID, "parent", parentID)
	return n.ID, nil
}

func (s *Store) slotTaken(parent *Node, slot int) bool {
	pos := s.alloc.SubStep(parent.Position, slot)
	return lo.ContainsBy(parent.Children, func(cid NodeID) bool {
		return s.nodes[cid].Position == pos
	})
}

// UpdateSubStep merges patch into sub-step id of parentID. Unknown ids or a
// parent that does not own id are a no-op.
func (s *Store) UpdateSubStep(parentID, id NodeID, patch NodePatch) error {
	n, ok := s.nodes[id]
	if !ok || n.ParentID != parentID {
		return nil
	}
	return s.applyPatch(n, patch)
}

// DeleteSubStep removes sub-step id (and anything below it) from parentID.
// If the selection was inside the removed subtree it moves to the parent.
func (s *Store) DeleteSubStep(parentID, id NodeID) {
	n, ok := s.nodes[id]
	if !ok || n.ParentID != parentID {
		return
	}
	parent := s.nodes[parentID]
	removed := s.collect(id)

	parent.Children = slices.DeleteFunc(parent.Children, func(c NodeID) bool { return c == id })
	for _, rid := range removed {
		delete(s.nodes, rid)
	}
	s.conns.Detach(removed)

	if !s.selected.IsZero() && !s.Has(s.selected) {
		s.selected = parentID
	}
	s.log.Debug("substep deleted", "id", id, "parent", parentID)
}

func (s *Store) applyPatch(n *Node, p NodePatch) error {
	if err := validatePatch(n.ID, p); err != nil {
		return err
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Description != nil {
		n.Description = *p.Description
	}
	if p.Shape != nil {
		n.Shape = *p.Shape
	}
	if p.Color != nil {
		n.Color = *p.Color
	}
	if p.Size != nil {
		n.Size = *p.Size
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	return nil
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// AddConnection appends an explicit connection from → to. A self-connection
// is a ValidationError; an unknown endpoint is ErrNotFound. Neither changes
// state.
func (s *Store) AddConnection(from, to NodeID, description string) (ConnectionID, error) {
	if from == to {
		return "", ValidationError{NodeID: from, Field: "connection", Message: "a node cannot connect to itself"}
	}
	if !s.Has(from) || !s.Has(to) {
		return "", fmt.Errorf("connection endpoint: %w", ErrNotFound)
	}
	c := Connection{
		ID:          s.freshConnectionID(),
		From:        from,
		To:          to,
		Description: description,
	}
	s.conns.Add(c)
	return c.ID, nil
}

// DeleteConnection removes a connection. An unknown id is a no-op.
func (s *Store) DeleteConnection(id ConnectionID) {
	s.conns.Remove(id)
}

// UpdateConnection merges patch into connection id. An unknown id is a
// no-op; a patch that would make a self-connection or point at a missing
// node is rejected.
func (s *Store) UpdateConnection(id ConnectionID, patch ConnectionPatch) error {
	c, ok := s.conns.Get(id)
	if !ok {
		return nil
	}
	if patch.From != nil {
		c.From = *patch.From
	}
	if patch.To != nil {
		c.To = *patch.To
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if c.From == c.To {
		return ValidationError{NodeID: c.From, Field: "connection", Message: "a node cannot connect to itself"}
	}
	if !s.Has(c.From) || !s.Has(c.To) {
		return fmt.Errorf("connection endpoint: %w", ErrNotFound)
	}
	s.conns.Replace(c)
	return nil
}

// ---------------------------------------------------------------------------
// Selection and mode
// ---------------------------------------------------------------------------

// SelectStep selects any existing node. Unknown ids are ignored and false is
// returned.
func (s *Store) SelectStep(id NodeID) bool {
	if !s.Has(id) {
		return false
	}
	s.selected = id
	return true
}

// ClearSelection deselects everything.
func (s *Store) ClearSelection() {
	s.selected = ""
}

// NextStep moves the selection forward along the top-level sequence.
func (s *Store) NextStep() bool {
	id, ok := Navigator{}.Next(s.roots, s.selected)
	if ok {
		s.selected = id
	}
	return ok
}

// PreviousStep moves the selection backward along the top-level sequence.
func (s *Store) PreviousStep() bool {
	id, ok := Navigator{}.Previous(s.roots, s.selected)
	if ok {
		s.selected = id
	}
	return ok
}

// Position returns the 1-based index of the selected step among the
// top-level steps and the total, with 0 when no top-level step is selected.
func (s *Store) Position() (current, total int) {
	return slices.Index(s.roots, s.selected) + 1, len(s.roots)
}

// SetViewerMode records the viewing flag. The store does not refuse
// mutations while it is set; callers gate them.
func (s *Store) SetViewerMode(on bool) {
	s.viewerMode = on
}

// ---------------------------------------------------------------------------
// Whole-document operations
// ---------------------------------------------------------------------------

// Clear resets the store to its empty state.
func (s *Store) Clear() {
	s.nodes = make(map[NodeID]*Node)
	s.roots = nil
	s.conns.Reset()
	s.selected = ""
	s.cursor = Vec3{}
	s.viewerMode = false
	s.palette.Reset()
}

// Load replaces the store contents with doc. The first step is selected, the
// cursor resumes after the last step and viewer mode is turned off. A
// document that fails validation is rejected and the store is unchanged.
func (s *Store) Load(doc Document) error {
	if errs := doc.Validate(); len(errs) > 0 {
		return errs[0]
	}

	nodes := make(map[NodeID]*Node, doc.NodeCount())
	var roots []NodeID
	var add func(sn StepNode, parent NodeID)
	add = func(sn StepNode, parent NodeID) {
		n := &Node{
			ID:          sn.ID,
			ParentID:    parent,
			Title:       sn.Title,
			Description: sn.Description,
			Shape:       sn.Shape,
			Color:       sn.Color,
			Size:        sn.Size,
			Position:    sn.Position,
		}
		nodes[n.ID] = n
		for _, c := range sn.Children {
			n.Children = append(n.Children, c.ID)
			add(c, n.ID)
		}
	}
	for _, sn := range doc.Steps {
		roots = append(roots, sn.ID)
		add(sn, "")
	}

	s.nodes = nodes
	s.roots = roots
	s.conns.Reset()
	for _, c := range doc.Connections {
		s.conns.Add(c)
	}
	s.selected = ""
	s.cursor = Vec3{}
	if len(roots) > 0 {
		s.selected = roots[0]
		s.cursor = s.alloc.CursorAfter(nodes[roots[len(roots)-1]].Position)
	}
	s.viewerMode = false
	s.palette = Palette{next: len(nodes)}
	s.log.Debug("document loaded", "steps", len(roots), "nodes", len(nodes), "connections", len(doc.Connections))
	return nil
}
