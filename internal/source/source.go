package source

import "context"

// Line is one raw log line produced by a source.
type Line struct {
	Source string // ingestion channel tag, e.g. "docker:web"
	Text   string
}

// LogSource is the abstraction all pull-based producers must satisfy. Lines
// are fed through the same classification path as the TCP endpoint.
type LogSource interface {
	Start(ctx context.Context) error
	Stop() error
	Lines() <-chan Line
}
