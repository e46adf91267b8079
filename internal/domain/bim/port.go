package bim

import "context"

// Repository port for documents and their owned elements/comparisons.
type Repository interface {
	// ReplaceForProject stores doc and deletes any prior document of the same project with its children.
	ReplaceForProject(ctx context.Context, doc *Document) error
	// Get returns (nil, nil) when absent.
	Get(ctx context.Context, id DocumentID) (*Document, error)
	GetByProject(ctx context.Context, projectID string) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	// ReplaceElements drops existing elements of the document before inserting.
	ReplaceElements(ctx context.Context, id DocumentID, elements []Element) error
	ReplaceComparisons(ctx context.Context, id DocumentID, comparisons []Comparison) error
	ListElements(ctx context.Context, id DocumentID) ([]Element, error)
	ListComparisons(ctx context.Context, id DocumentID) ([]Comparison, error)
	// Delete removes the document with its elements and comparisons.
	Delete(ctx context.Context, id DocumentID) error
}

// Parser opens model files. Failures wrap ErrUnrecognizedFormat or ErrParse.
type Parser interface {
	Open(path string) (Model, error)
}

// Model is an opened model file.
type Model interface {
	Schema() string
	ElementsByCategory(c Category) []RawElement
}

// RawElement is a parser-level entity. Attribute access is lazy and may fail per element.
type RawElement interface {
	ID() string
	Name() (string, error)
	Tag() (string, error)
}
