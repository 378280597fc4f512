// Package source defines the input collaborator: a lazy, restartable
// sequence of raw document blobs with origin metadata. The pipeline only
// requires next-item semantics and assumes nothing about the medium.
package source

import (
	"context"
	"io"
	"time"
)

// Metadata is the origin information attached to a raw document.
type Metadata struct {
	Sender     string
	Subject    string
	Origin     string
	ReceivedAt time.Time
}

// RawDocument is one unprocessed input blob.
type RawDocument struct {
	Content []byte
	Meta    Metadata
}

// Source produces raw documents one at a time. Next returns io.EOF when
// the sequence is exhausted; implementations that can be restarted expose
// a Reset to re-walk their backing medium.
type Source interface {
	Next(ctx context.Context) (*RawDocument, error)
}

// EOF re-exports the sentinel a drained source returns.
var EOF = io.EOF
