// Package schema defines the closed vocabulary of the code knowledge graph:
// node kinds, relationship kinds, required attributes per kind, identity key
// derivation, and the validity lattice that decides which relationship may
// connect which ordered pair of node kinds.
package schema

import (
	"fmt"
)

// NodeKind classifies a node in the code graph.
type NodeKind string

const (
	KindFile     NodeKind = "File"
	KindFunction NodeKind = "Function"
	KindMethod   NodeKind = "Method"
	KindClass    NodeKind = "Class"
	KindImport   NodeKind = "Import"

	// Reserved for future aggregation levels; no construction path
	// produces them yet.
	KindModule  NodeKind = "Module"
	KindPackage NodeKind = "Package"
)

// RelKind classifies a relationship between two nodes.
type RelKind string

const (
	RelContains RelKind = "CONTAINS"
	RelDefines  RelKind = "DEFINES"
	RelInherits RelKind = "INHERITS"
	RelImports  RelKind = "IMPORTS"
	RelCalls    RelKind = "CALLS"
)

// NodeKinds returns every node kind the schema accepts.
func NodeKinds() []NodeKind {
	return []NodeKind{KindFile, KindFunction, KindMethod, KindClass, KindImport, KindModule, KindPackage}
}

// RelKinds returns every relationship kind the schema accepts.
func RelKinds() []RelKind {
	return []RelKind{RelContains, RelDefines, RelInherits, RelImports, RelCalls}
}

// IsValid reports whether the node kind is part of the schema.
func (k NodeKind) IsValid() bool {
	switch k {
	case KindFile, KindFunction, KindMethod, KindClass, KindImport, KindModule, KindPackage:
		return true
	}
	return false
}

// IsValid reports whether the relationship kind is part of the schema.
func (r RelKind) IsValid() bool {
	switch r {
	case RelContains, RelDefines, RelInherits, RelImports, RelCalls:
		return true
	}
	return false
}

// validEdges is the lattice of legal (relationship, source, target) triples.
var validEdges = map[RelKind]map[NodeKind]map[NodeKind]bool{
	RelContains: {
		KindFile: {KindFunction: true, KindClass: true, KindImport: true},
	},
	RelDefines: {
		KindClass: {KindMethod: true},
	},
	RelInherits: {
		KindClass: {KindClass: true},
	},
	RelImports: {
		KindFile: {KindImport: true},
	},
	RelCalls: {
		KindFunction: {KindFunction: true},
		KindMethod:   {KindFunction: true, KindMethod: true},
	},
}

// IsValidEdge reports whether rel may connect a source node of kind src to a
// target node of kind dst.
func IsValidEdge(rel RelKind, src, dst NodeKind) bool {
	return validEdges[rel][src][dst]
}

// requiredAttrs lists the attribute names a node payload must carry before it
// may be upserted. name and fullName are carried on every node and checked
// separately by ValidateNode.
var requiredAttrs = map[NodeKind][]string{
	KindFile:     {"path"},
	KindFunction: {"args", "lineno"},
	KindMethod:   {"args", "lineno"},
	KindClass:    {"bases", "lineno"},
	KindImport:   {"type", "lineno"},
}

// RequiredAttributes returns the attribute names required for the kind,
// beyond the universal name/fullName pair.
func RequiredAttributes(kind NodeKind) []string {
	attrs := requiredAttrs[kind]
	out := make([]string, len(attrs))
	copy(out, attrs)
	return out
}

// ValidateNode checks a node payload against the schema. A failure is a
// *ViolationError; callers skip the record and continue.
func ValidateNode(kind NodeKind, name, fullName string, attrs map[string]any) error {
	if !kind.IsValid() {
		return &ViolationError{Kind: kind, Attr: "kind", Reason: "unknown node kind"}
	}
	if name == "" {
		return &ViolationError{Kind: kind, Attr: "name", Reason: "missing"}
	}
	if fullName == "" {
		return &ViolationError{Kind: kind, Attr: "fullName", Reason: "missing"}
	}
	for _, attr := range requiredAttrs[kind] {
		if _, ok := attrs[attr]; !ok {
			return &ViolationError{Kind: kind, Attr: attr, Reason: "missing"}
		}
	}
	return nil
}

// Constraint declares a uniqueness requirement the backing store must enforce
// before any write path is exercised.
type Constraint struct {
	Kind NodeKind
	Attr string
}

// UniquenessConstraints returns the declarative constraint list. Declaring
// them repeatedly at startup must be idempotent in any adapter.
func UniquenessConstraints() []Constraint {
	return []Constraint{
		{Kind: KindFile, Attr: "fullName"},
		{Kind: KindFunction, Attr: "fullName"},
		{Kind: KindMethod, Attr: "fullName"},
		{Kind: KindClass, Attr: "fullName"},
		{Kind: KindImport, Attr: "fullName"},
	}
}

// ViolationError reports a node payload that does not satisfy the schema.
type ViolationError struct {
	Kind   NodeKind
	Attr   string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("schema violation: %s.%s %s", e.Kind, e.Attr, e.Reason)
}

// InvalidEdgeError reports a relationship outside the validity lattice.
type InvalidEdgeError struct {
	Rel      RelKind
	Src, Dst NodeKind
}

func (e *InvalidEdgeError) Error() string {
	return fmt.Sprintf("invalid edge: %s not allowed from %s to %s", e.Rel, e.Src, e.Dst)
}
