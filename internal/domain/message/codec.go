package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// SchemaVersion is the only envelope version this build reads and writes.
const SchemaVersion = 1

// Kind tags the envelope payload.
type Kind string

const (
	// KindQuery marks a broadcast query.
	KindQuery Kind = "query"
	// KindResponse marks a node's response to a query.
	KindResponse Kind = "response"
)

var (
	// ErrMalformed signals a payload that is not a valid envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrUnsupportedVersion signals an envelope written with another schema version.
	ErrUnsupportedVersion = errors.New("unsupported message version")
	// ErrKindMismatch signals a valid envelope of the wrong kind for the topic.
	ErrKindMismatch = errors.New("unexpected message kind")
)

// Envelope limits, in characters. A result entry may quote the whole query
// text, so its cap leaves EntryOverhead on top of MaxQueryLen.
// Keep in sync with the validate tags on envelope.
const (
	MaxQueryLen   = 65536
	EntryOverhead = 1024
	MaxEntryLen   = MaxQueryLen + EntryOverhead
	MaxResults    = 4096
)

// envelope is the wire format shared by queries and responses.
type envelope struct {
	Version int      `json:"v"`
	Kind    Kind     `json:"kind" validate:"required,oneof=query response"`
	ID      string   `json:"id" validate:"required,uuid"`
	Node    string   `json:"node" validate:"required,nodeid"`
	Query   *string  `json:"query,omitempty" validate:"required_if=Kind query,excluded_if=Kind response,omitempty,max=65536"`
	Results []string `json:"results,omitempty" validate:"excluded_if=Kind query,max=4096,dive,max=66560"`
}

var (
	nodeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,255}$`)
	validate    *validator.Validate
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("nodeid", validateNodeID)
}

func validateNodeID(fl validator.FieldLevel) bool {
	return nodeIDRegex.MatchString(fl.Field().String())
}

// ValidNodeID reports whether id can be carried in an envelope.
func ValidNodeID(id string) bool {
	return nodeIDRegex.MatchString(id)
}

// EncodeQuery serializes q as a versioned query envelope.
func EncodeQuery(q Query) ([]byte, error) {
	text := q.Text()
	return encode(envelope{
		Version: SchemaVersion,
		Kind:    KindQuery,
		ID:      q.ID(),
		Node:    q.Origin(),
		Query:   &text,
	})
}

// EncodeResponse serializes r as a versioned response envelope.
func EncodeResponse(r Response) ([]byte, error) {
	return encode(envelope{
		Version: SchemaVersion,
		Kind:    KindResponse,
		ID:      r.ID(),
		Node:    r.Node(),
		Results: r.Results(),
	})
}

// DecodeQuery parses and validates a query envelope.
func DecodeQuery(data []byte) (Query, error) {
	env, err := decode(data, KindQuery)
	if err != nil {
		return Query{}, err
	}
	return ReconstructQuery(env.ID, *env.Query, env.Node), nil
}

// DecodeResponse parses and validates a response envelope.
func DecodeResponse(data []byte) (Response, error) {
	env, err := decode(data, KindResponse)
	if err != nil {
		return Response{}, err
	}
	return Response{id: env.ID, node: env.Node, results: env.Results}, nil
}

func encode(env envelope) ([]byte, error) {
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind, err)
	}
	return data, nil
}

func decode(data []byte, want Kind) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return envelope{}, fmt.Errorf("%w: trailing data after envelope", ErrMalformed)
	}
	if env.Version != SchemaVersion {
		return envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if err := validate.Struct(env); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Kind != want {
		return envelope{}, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, env.Kind, want)
	}
	return env, nil
}
