// Package directive defines the structured edits exchanged between the
// synthesizer and the mutation engine, and the per-directive results.
package directive

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing target document or selector.
var ErrNotFound = errors.New("not found")

// Operation is the closed set of structural edits.
type Operation int

const (
	TitleSet Operation = iota + 1
	MetaSet
	H1Set
	InsertBefore
	InsertAfter
	Append
)

var operationNames = map[Operation]string{
	TitleSet:     "title_set",
	MetaSet:      "meta_set",
	H1Set:        "h1_set",
	InsertBefore: "insert_before",
	InsertAfter:  "insert_after",
	Append:       "append",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

func (o Operation) Valid() bool {
	_, ok := operationNames[o]
	return ok
}

// IsSet reports whether the operation replaces existing content. Set
// operations are idempotent; insert operations add a copy per application.
func (o Operation) IsSet() bool {
	return o == TitleSet || o == MetaSet || o == H1Set
}

// IsInsert reports whether the payload is a markup fragment.
func (o Operation) IsInsert() bool {
	return o == InsertBefore || o == InsertAfter || o == Append
}

func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("unknown operation %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	op, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// EditDirective is one change to one part of one document. TargetDocument
// is a slash-separated path relative to the document tree root.
type EditDirective struct {
	TargetDocument string    `json:"target"`
	Operation      Operation `json:"operation"`
	Selector       string    `json:"selector"`
	Payload        string    `json:"payload"`
	SourceKeyword  string    `json:"keyword"`
}

func (d EditDirective) String() string {
	return fmt.Sprintf("%s %s %s (%q)", d.Operation, d.TargetDocument, d.Selector, d.SourceKeyword)
}
