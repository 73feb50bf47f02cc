package message

import "github.com/google/uuid"

// Query is a broadcast query (immutable value object).
type Query struct {
	id     string
	text   string
	origin string
}

// NewQuery creates a Query with a fresh random correlation id.
func NewQuery(text, origin string) Query {
	return Query{id: uuid.NewString(), text: text, origin: origin}
}

// ReconstructQuery creates a Query without generating an id (wire hydration).
func ReconstructQuery(id, text, origin string) Query {
	return Query{id: id, text: text, origin: origin}
}

// ID returns the correlation id.
func (q Query) ID() string { return q.id }

// Text returns the query text.
func (q Query) Text() string { return q.text }

// Origin returns the id of the node that broadcast the query.
func (q Query) Origin() string { return q.origin }

// Response carries one node's results for a Query (immutable value object).
type Response struct {
	id      string
	node    string
	results []string
}

// NewResponse creates a Response for the query with the given correlation id.
// results is copied.
func NewResponse(id, node string, results []string) Response {
	return Response{id: id, node: node, results: append([]string(nil), results...)}
}

// ID returns the correlation id of the originating Query.
func (r Response) ID() string { return r.id }

// Node returns the id of the responding node.
func (r Response) Node() string { return r.node }

// Results returns a copy of the result entries in order.
func (r Response) Results() []string { return append([]string(nil), r.results...) }
