package wire

import "github.com/pkg/errors"

// ErrMalformed indicates the stream did not contain a well-formed envelope.
var ErrMalformed = errors.New("malformed envelope")

// ErrUnknownType indicates an envelope with a missing or unrecognized type.
var ErrUnknownType = errors.New("unknown envelope type")
