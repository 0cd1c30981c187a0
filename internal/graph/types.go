// Package graph holds the node and edge records exchanged between the
// construction engine, the store, and the query service.
package graph

import (
	"time"

	"codegraph/internal/schema"
)

// Ref identifies a stored node by kind and identity key.
type Ref struct {
	Kind schema.NodeKind `json:"kind"`
	Key  string          `json:"full_name"`
}

// Node is a materialized graph node.
type Node struct {
	Kind      schema.NodeKind `json:"kind"`
	FullName  string          `json:"full_name"`
	Name      string          `json:"name"`
	Attrs     map[string]any  `json:"attrs,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Ref returns the node's identity reference.
func (n *Node) Ref() Ref {
	return Ref{Kind: n.Kind, Key: n.FullName}
}

// Edge is a materialized relationship between two nodes. Edges carry no
// identity of their own; the (source, rel, target) triple is the key.
type Edge struct {
	Rel       schema.RelKind `json:"rel"`
	Source    Ref            `json:"source"`
	Target    Ref            `json:"target"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// FileAttrs is the attribute payload of a File node.
type FileAttrs struct {
	Path     string
	Size     int64
	Hash     string
	Language string
}

// Map renders the payload for upsert. Empty optional fields are omitted so
// the store's non-destructive merge never clobbers known values.
func (a FileAttrs) Map() map[string]any {
	m := map[string]any{"path": a.Path}
	if a.Size > 0 {
		m["size"] = a.Size
	}
	if a.Hash != "" {
		m["hash"] = a.Hash
	}
	if a.Language != "" {
		m["language"] = a.Language
	}
	return m
}

// FunctionAttrs is the attribute payload of a Function or Method node.
type FunctionAttrs struct {
	Args      []string
	Returns   string
	Docstring string
	Lineno    int
	IsAsync   bool
}

func (a FunctionAttrs) Map() map[string]any {
	m := map[string]any{
		"args":   a.Args,
		"lineno": a.Lineno,
	}
	if a.Returns != "" {
		m["returns"] = a.Returns
	}
	if a.Docstring != "" {
		m["docstring"] = a.Docstring
	}
	if a.IsAsync {
		m["is_async"] = true
	}
	return m
}

// ClassAttrs is the attribute payload of a Class node.
type ClassAttrs struct {
	Bases      []string
	Docstring  string
	Lineno     int
	Methods    []string
	IsAbstract bool
}

func (a ClassAttrs) Map() map[string]any {
	m := map[string]any{
		"bases":  a.Bases,
		"lineno": a.Lineno,
	}
	if a.Docstring != "" {
		m["docstring"] = a.Docstring
	}
	if len(a.Methods) > 0 {
		m["methods"] = a.Methods
	}
	if a.IsAbstract {
		m["is_abstract"] = true
	}
	return m
}

// ImportAttrs is the attribute payload of an Import node.
type ImportAttrs struct {
	Module string
	Asname string
	Type   string // "import" or "import-from"
	Lineno int
}

func (a ImportAttrs) Map() map[string]any {
	m := map[string]any{
		"type":   a.Type,
		"lineno": a.Lineno,
	}
	if a.Module != "" {
		m["module"] = a.Module
	}
	if a.Asname != "" {
		m["asname"] = a.Asname
	}
	return m
}
