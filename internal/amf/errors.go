package amf

import "fmt"

// ErrorKind classifies codec failures.
type ErrorKind int

const (
	// UnknownMarker means the input used a type marker the codec does not
	// support (XML documents, typed vectors, externalizable traits).
	UnknownMarker ErrorKind = iota

	// TruncatedInput means the input ended inside a value.
	TruncatedInput

	// InvalidReferenceIndex means a reference pointed outside the table
	// built so far, or at a value still being decoded.
	InvalidReferenceIndex

	// DepthLimitExceeded means value nesting passed the configured cap.
	DepthLimitExceeded
)

// errorKindNames maps ErrorKind values to their string representation.
var errorKindNames = map[ErrorKind]string{
	UnknownMarker:         "unknown marker",
	TruncatedInput:        "truncated input",
	InvalidReferenceIndex: "invalid reference index",
	DepthLimitExceeded:    "depth limit exceeded",
}

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "codec error"
}

// CodecError is returned for any malformed, truncated, or over-deep input.
// It is always local to a single message: callers surface the offending
// frame as malformed and keep the pipeline running.
type CodecError struct {
	Kind   ErrorKind
	Offset int
	Detail string
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("amf: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
	}
	return fmt.Sprintf("amf: %s at offset %d", e.Kind, e.Offset)
}

func codecErr(kind ErrorKind, offset int, format string, args ...interface{}) *CodecError {
	return &CodecError{Kind: kind, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}
