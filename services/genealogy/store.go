// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package genealogy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// DefaultPaletteSize is the number of concept colors in the fixed
// palette. Color tokens wrap modulo this size.
const DefaultPaletteSize = 10

// nodeIDMaxLen caps the normalized-title portion of a derived node id.
const nodeIDMaxLen = 40

// expansionKeyPrefix namespaces synthetic concepts created by node
// expansion. User concept keys are lowercased queries and can never
// collide with this namespace because we control the prefix.
const expansionKeyPrefix = "expansion:"

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeConceptKey derives a concept's identity key from its query:
// lowercased and trimmed. Display text keeps the original case.
func NormalizeConceptKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// ExpansionConceptKey derives the synthetic concept key holding the
// children of an expanded node.
func ExpansionConceptKey(nodeID string) string {
	return expansionKeyPrefix + nodeID
}

// conceptIDToken derives the id-safe token for a concept key: the
// normalized key slug plus a short hash of the exact key bytes. The
// slug alone is lossy (punctuation collapses, long keys truncate), so
// keys differing only in dropped characters would otherwise yield the
// same token; the hash keeps the token injective in the key.
func conceptIDToken(key string) string {
	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(key), "_")
	if len(slug) > nodeIDMaxLen {
		slug = slug[:nodeIDMaxLen]
	}
	sum := sha256.Sum256([]byte(key))
	return slug + "_" + hex.EncodeToString(sum[:4])
}

// GenerateNodeID derives the stable id for a (title, year) pair.
//
// Description:
//
//	Lowercases the title, collapses every run of non-alphanumeric
//	characters to a single underscore, truncates to 40 characters, and
//	appends "_<year>". The id doubles as one axis of dedup: two items
//	normalizing to the same id are the same node.
//
// Thread Safety: This function is safe for concurrent use.
func GenerateNodeID(title, year string) string {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(title), "_")
	if len(normalized) > nodeIDMaxLen {
		normalized = normalized[:nodeIDMaxLen]
	}
	return normalized + "_" + year
}

// GraphStore is the authoritative, deduplicated graph of traced
// concepts. All mutation of nodes, edges, and concepts goes through its
// methods; concurrent sessions and expansions serialize on its mutex so
// no multi-step mutation is ever observed half-applied.
//
// Thread Safety: GraphStore is safe for concurrent use. Query methods
// return copies; callers never hold references into internal state.
type GraphStore struct {
	mu           sync.RWMutex
	nodes        map[string]*Node
	edges        []*Edge
	edgePairs    map[string]struct{}
	concepts     map[string]*Concept
	conceptOrder []string
	paletteSize  int
}

// StoreOption configures a GraphStore.
type StoreOption func(*GraphStore)

// WithPaletteSize overrides the concept color palette length.
func WithPaletteSize(size int) StoreOption {
	return func(s *GraphStore) {
		if size > 0 {
			s.paletteSize = size
		}
	}
}

// NewGraphStore creates an empty graph store.
func NewGraphStore(opts ...StoreOption) *GraphStore {
	s := &GraphStore{
		nodes:       make(map[string]*Node),
		edgePairs:   make(map[string]struct{}),
		concepts:    make(map[string]*Concept),
		paletteSize: DefaultPaletteSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddConcept registers a traced query, creating its root pseudo-node.
//
// Description:
//
//	No-op returning the existing concept if the normalized key is
//	already present. New concepts take the next palette color (concept
//	count modulo palette length), start visible, and own a root node
//	that anchors question edges but never joins the item chain.
//
// Inputs:
//
//	query - User-entered text; case is preserved for display.
//
// Outputs:
//
//	Concept - A copy of the created or existing concept.
//
// Thread Safety: This method is safe for concurrent use.
func (s *GraphStore) AddConcept(query string) Concept {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeConceptKey(query)
	if existing, ok := s.concepts[key]; ok {
		return copyConcept(existing)
	}

	rootID := "root_" + conceptIDToken(key)
	concept := &Concept{
		Query:         query,
		NormalizedKey: key,
		ColorToken:    len(s.concepts) % s.paletteSize,
		Visible:       true,
		RootNodeID:    rootID,
		NodeIDs:       []string{rootID},
	}

	s.nodes[rootID] = &Node{
		ID:              rootID,
		Kind:            NodeKindRoot,
		Title:           query,
		OwnerConceptKey: key,
		ExpansionState:  ExpansionUnexpanded,
	}

	s.concepts[key] = concept
	s.conceptOrder = append(s.conceptOrder, key)
	return copyConcept(concept)
}

// ensureExpansionConcept registers the synthetic concept that owns the
// children of an expanded node. Unlike user concepts it has no root
// pseudo-node; the expanded node itself anchors the sub-trace.
func (s *GraphStore) ensureExpansionConcept(nodeID, title string) Concept {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ExpansionConceptKey(nodeID)
	if existing, ok := s.concepts[key]; ok {
		return copyConcept(existing)
	}

	concept := &Concept{
		Query:         title,
		NormalizedKey: key,
		ColorToken:    len(s.concepts) % s.paletteSize,
		Visible:       true,
	}
	s.concepts[key] = concept
	s.conceptOrder = append(s.conceptOrder, key)
	return copyConcept(concept)
}

// FindCrossReference returns an existing node considered the same
// real-world item as (title, year) under the lenient merge policy.
//
// Description:
//
//	Checked in order, first match wins: (1) exact case-insensitive
//	title match with the same year; (2) same year and at least two
//	shared title words longer than three characters. Over-merging is
//	tolerated in favor of surfacing cross-concept connections; the
//	ordering is a tie-break, not a ranked score.
//
// Outputs:
//
//	*Node - A copy of the matched node, or nil.
//
// Thread Safety: This method is safe for concurrent use.
func (s *GraphStore) FindCrossReference(title, year string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if match := s.findCrossReferenceLocked(title, year); match != nil {
		n := *match
		return &n
	}
	return nil
}

func (s *GraphStore) findCrossReferenceLocked(title, year string) *Node {
	lower := strings.ToLower(title)

	for _, n := range s.nodes {
		if n.Kind != NodeKindGenealogy {
			continue
		}
		if n.Year == year && strings.ToLower(n.Title) == lower {
			return n
		}
	}

	words := significantWords(title)
	for _, n := range s.nodes {
		if n.Kind != NodeKindGenealogy || n.Year != year {
			continue
		}
		if overlapCount(words, significantWords(n.Title)) >= 2 {
			return n
		}
	}

	return nil
}

// significantWords returns the lowercased title words longer than three
// characters, as a set.
func significantWords(title string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len(w) > 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

func overlapCount(a, b map[string]struct{}) int {
	count := 0
	for w := range a {
		if _, ok := b[w]; ok {
			count++
		}
	}
	return count
}

// AddItem ingests one parsed record into a concept's chain.
//
// Description:
//
//	If a cross-reference matches, no node is created: the existing
//	node's id joins the owner concept's list and, when a previous node
//	exists in this concept's chain, a cross_concept edge links it to
//	the match (skipped when the previous node already is the match).
//	Otherwise a fresh unexpanded genealogy node is created and, when a
//	previous node exists, a temporal edge links it to the new node.
//
// Inputs:
//
//	item - The parsed record. Must not be nil.
//	ownerKey - Normalized key of the ingesting concept.
//	prevNodeID - Id of the previous node in this concept's chain, or
//	"" at the start of the chain (the root never joins the chain).
//
// Outputs:
//
//	Node - A copy of the created or matched node.
//	bool - True when a new node was created.
//	error - ErrConceptNotFound if ownerKey is unknown.
//
// Thread Safety: This method is safe for concurrent use; the whole
// merge is atomic with respect to other store operations.
func (s *GraphStore) AddItem(item *GenealogyItem, ownerKey, prevNodeID string) (Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	concept, ok := s.concepts[ownerKey]
	if !ok {
		return Node{}, false, fmt.Errorf("add item to %q: %w", ownerKey, ErrConceptNotFound)
	}

	match := s.findCrossReferenceLocked(item.Title, item.Year)
	if match == nil {
		// Same derived id means same node even when the fuzzy check
		// missed (e.g. punctuation-only title differences).
		if existing, ok := s.nodes[GenerateNodeID(item.Title, item.Year)]; ok && existing.Kind == NodeKindGenealogy {
			match = existing
		}
	}

	if match != nil {
		if !containsID(concept.NodeIDs, match.ID) {
			concept.NodeIDs = append(concept.NodeIDs, match.ID)
		}
		if prevNodeID != "" && prevNodeID != match.ID {
			s.addEdgeLocked(prevNodeID, match.ID, EdgeKindCrossConcept, ownerKey)
		}
		return *match, false, nil
	}

	node := &Node{
		ID:              GenerateNodeID(item.Title, item.Year),
		Kind:            NodeKindGenealogy,
		Title:           item.Title,
		Year:            item.Year,
		URL:             item.URL,
		Claim:           item.Claim,
		OwnerConceptKey: ownerKey,
		ExpansionState:  ExpansionUnexpanded,
	}
	s.nodes[node.ID] = node
	concept.NodeIDs = append(concept.NodeIDs, node.ID)

	if prevNodeID != "" {
		s.addEdgeLocked(prevNodeID, node.ID, EdgeKindTemporal, ownerKey)
	}

	return *node, true, nil
}

// AddQuestion attaches a question node to a concept's root.
//
// Outputs:
//
//	Node - A copy of the question node (existing one if the same text
//	was already recorded for this concept).
//	error - ErrConceptNotFound if ownerKey is unknown.
func (s *GraphStore) AddQuestion(text, ownerKey string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	concept, ok := s.concepts[ownerKey]
	if !ok {
		return Node{}, fmt.Errorf("add question to %q: %w", ownerKey, ErrConceptNotFound)
	}

	id := "question_" + GenerateNodeID(text, conceptIDToken(ownerKey))
	if existing, ok := s.nodes[id]; ok {
		return *existing, nil
	}

	node := &Node{
		ID:              id,
		Kind:            NodeKindQuestion,
		Title:           text,
		OwnerConceptKey: ownerKey,
		ExpansionState:  ExpansionUnexpanded,
	}
	s.nodes[id] = node
	concept.NodeIDs = append(concept.NodeIDs, id)

	if concept.RootNodeID != "" {
		s.addEdgeLocked(concept.RootNodeID, id, EdgeKindQuestion, ownerKey)
	}

	return *node, nil
}

// AddEdge records a directed edge between two existing nodes.
//
// Outputs:
//
//	bool - True if the edge was added; false when it would duplicate an
//	existing (source, target) pair, form a self-loop, or reference a
//	missing endpoint.
func (s *GraphStore) AddEdge(sourceID, targetID string, kind EdgeKind, ownerKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEdgeLocked(sourceID, targetID, kind, ownerKey)
}

func (s *GraphStore) addEdgeLocked(sourceID, targetID string, kind EdgeKind, ownerKey string) bool {
	if sourceID == targetID {
		return false
	}
	if _, ok := s.nodes[sourceID]; !ok {
		return false
	}
	if _, ok := s.nodes[targetID]; !ok {
		return false
	}

	pair := sourceID + "\x00" + targetID
	if _, ok := s.edgePairs[pair]; ok {
		return false
	}

	s.edgePairs[pair] = struct{}{}
	s.edges = append(s.edges, &Edge{
		SourceID:        sourceID,
		TargetID:        targetID,
		Kind:            kind,
		OwnerConceptKey: ownerKey,
	})
	return true
}

// RemoveConcept deletes a concept and cascades to its owned nodes.
//
// Description:
//
//	Deletes every node owned by the concept, then every edge missing an
//	endpoint, including cross_concept edges arriving from other
//	concepts, which would otherwise dangle. Nodes the concept merely
//	referenced (owned elsewhere) survive; their ids are stripped from
//	the remaining concepts' chains only when the node itself died.
//
// Thread Safety: The cascade is atomic with respect to other store
// operations.
func (s *GraphStore) RemoveConcept(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.concepts[key]; !ok {
		return fmt.Errorf("remove concept %q: %w", key, ErrConceptNotFound)
	}

	for id, n := range s.nodes {
		if n.OwnerConceptKey == key {
			delete(s.nodes, id)
		}
	}

	kept := s.edges[:0]
	s.edgePairs = make(map[string]struct{})
	for _, e := range s.edges {
		_, srcOK := s.nodes[e.SourceID]
		_, dstOK := s.nodes[e.TargetID]
		if srcOK && dstOK {
			kept = append(kept, e)
			s.edgePairs[e.SourceID+"\x00"+e.TargetID] = struct{}{}
		}
	}
	s.edges = kept

	delete(s.concepts, key)
	s.conceptOrder = removeString(s.conceptOrder, key)

	for _, c := range s.concepts {
		filtered := c.NodeIDs[:0]
		for _, id := range c.NodeIDs {
			if _, ok := s.nodes[id]; ok {
				filtered = append(filtered, id)
			}
		}
		c.NodeIDs = filtered
	}

	return nil
}

// SetVisibility toggles a concept's participation in the visible
// subgraph without deleting any data.
func (s *GraphStore) SetVisibility(key string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	concept, ok := s.concepts[key]
	if !ok {
		return fmt.Errorf("set visibility on %q: %w", key, ErrConceptNotFound)
	}
	concept.Visible = visible
	return nil
}

// VisibleSubgraph returns copies of the nodes owned by visible concepts
// and the edges whose endpoints both survive the filter.
func (s *GraphStore) VisibleSubgraph() ([]*Node, []*Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make(map[string]struct{})
	var nodes []*Node
	for _, key := range s.conceptOrder {
		c := s.concepts[key]
		if !c.Visible {
			continue
		}
		for _, id := range c.NodeIDs {
			n, ok := s.nodes[id]
			if !ok || n.OwnerConceptKey != key {
				continue
			}
			if _, seen := visible[id]; seen {
				continue
			}
			visible[id] = struct{}{}
			copied := *n
			nodes = append(nodes, &copied)
		}
	}

	var edges []*Edge
	for _, e := range s.edges {
		_, srcOK := visible[e.SourceID]
		_, dstOK := visible[e.TargetID]
		if srcOK && dstOK {
			copied := *e
			edges = append(edges, &copied)
		}
	}

	return nodes, edges
}

// Node returns a copy of the node with the given id.
func (s *GraphStore) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Concept returns a copy of the concept with the given normalized key.
func (s *GraphStore) Concept(key string) (Concept, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[key]
	if !ok {
		return Concept{}, false
	}
	return copyConcept(c), true
}

// HasGenealogyNodeTitled reports whether any genealogy node carries
// exactly this title. This is the strict duplicate check expansion
// uses, deliberately narrower than FindCrossReference.
func (s *GraphStore) HasGenealogyNodeTitled(title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes {
		if n.Kind == NodeKindGenealogy && n.Title == title {
			return true
		}
	}
	return false
}

// BeginExpansion transitions a node into the expanding state.
//
// Description:
//
//	The node's expansion state acts as the per-node mutex: only one
//	caller can move unexpanded → expanding, so at most one expansion is
//	ever in flight per node.
//
// Outputs:
//
//	error - ErrNodeNotFound, ErrNotExpandable, ErrAlreadyExpanding, or
//	ErrAlreadyExpanded; nil when the transition happened.
func (s *GraphStore) BeginExpansion(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("expand %q: %w", nodeID, ErrNodeNotFound)
	}
	if !n.Expandable() {
		return fmt.Errorf("expand %q: %w", nodeID, ErrNotExpandable)
	}

	switch n.ExpansionState {
	case ExpansionExpanding:
		return fmt.Errorf("expand %q: %w", nodeID, ErrAlreadyExpanding)
	case ExpansionExpanded:
		return fmt.Errorf("expand %q: %w", nodeID, ErrAlreadyExpanded)
	}

	n.ExpansionState = ExpansionExpanding
	return nil
}

// FinishExpansion settles a node after its fetch completed.
//
// Description:
//
//	Success with at least one new record moves the node to expanded
//	(terminal). Failure and the "nothing found" outcome both return the
//	node to unexpanded so it stays retryable.
func (s *GraphStore) FinishExpansion(nodeID string, newNodes int, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	if !failed && newNodes > 0 {
		n.ExpansionState = ExpansionExpanded
	} else {
		n.ExpansionState = ExpansionUnexpanded
	}
}

// SetPosition stores rendering-layer position hints on a node. The
// engine never interprets them.
func (s *GraphStore) SetPosition(nodeID string, x, y float64, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("position %q: %w", nodeID, ErrNodeNotFound)
	}
	n.X, n.Y, n.Pinned = x, y, pinned
	return nil
}

// Counts returns the number of nodes, edges, and concepts.
func (s *GraphStore) Counts() (nodes, edges, concepts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges), len(s.concepts)
}

// Snapshot serializes the whole graph.
//
// Description:
//
//	Nodes and concepts appear in concept allocation order so snapshots
//	of the same graph are byte-stable. The result is a deep copy.
func (s *GraphStore) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	seen := make(map[string]struct{})

	for _, key := range s.conceptOrder {
		c := s.concepts[key]
		copied := copyConcept(c)
		snap.Concepts = append(snap.Concepts, &copied)

		for _, id := range c.NodeIDs {
			n, ok := s.nodes[id]
			if !ok || n.OwnerConceptKey != key {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			copiedNode := *n
			snap.Nodes = append(snap.Nodes, &copiedNode)
		}
	}

	for _, e := range s.edges {
		copied := *e
		snap.Edges = append(snap.Edges, &copied)
	}

	return snap
}

// Restore replaces the store's state with a snapshot's.
//
// Description:
//
//	Validates the snapshot before touching state: duplicate node ids,
//	edges with missing endpoints, and concepts listing unknown nodes
//	all reject the restore with ErrBadSnapshot, leaving the current
//	graph untouched.
func (s *GraphStore) Restore(snap *Snapshot) error {
	nodes := make(map[string]*Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q: %w", n.ID, ErrBadSnapshot)
		}
		copied := *n
		if copied.ExpansionState == "" || copied.ExpansionState == ExpansionExpanding || copied.ExpansionState == ExpansionFailed {
			// In-flight and failed states do not survive a restart;
			// both come back retryable.
			copied.ExpansionState = ExpansionUnexpanded
		}
		nodes[n.ID] = &copied
	}

	edgePairs := make(map[string]struct{}, len(snap.Edges))
	edges := make([]*Edge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		_, srcOK := nodes[e.SourceID]
		_, dstOK := nodes[e.TargetID]
		if !srcOK || !dstOK {
			return fmt.Errorf("edge %s->%s references missing node: %w", e.SourceID, e.TargetID, ErrBadSnapshot)
		}
		pair := e.SourceID + "\x00" + e.TargetID
		if _, dup := edgePairs[pair]; dup {
			return fmt.Errorf("duplicate edge %s->%s: %w", e.SourceID, e.TargetID, ErrBadSnapshot)
		}
		edgePairs[pair] = struct{}{}
		copied := *e
		edges = append(edges, &copied)
	}

	concepts := make(map[string]*Concept, len(snap.Concepts))
	var order []string
	for _, c := range snap.Concepts {
		if _, dup := concepts[c.NormalizedKey]; dup {
			return fmt.Errorf("duplicate concept %q: %w", c.NormalizedKey, ErrBadSnapshot)
		}
		for _, id := range c.NodeIDs {
			if _, ok := nodes[id]; !ok {
				return fmt.Errorf("concept %q lists missing node %q: %w", c.NormalizedKey, id, ErrBadSnapshot)
			}
		}
		copied := copyConcept(c)
		concepts[c.NormalizedKey] = &copied
		order = append(order, c.NormalizedKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.edges = edges
	s.edgePairs = edgePairs
	s.concepts = concepts
	s.conceptOrder = order
	return nil
}

func copyConcept(c *Concept) Concept {
	copied := *c
	copied.NodeIDs = append([]string(nil), c.NodeIDs...)
	return copied
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, item := range list {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}
