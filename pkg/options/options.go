// Package options provides the configuration surface for skiplog
// databases: comparator family, compaction and recovery switches, and
// the logger the engine reports through.
package options

import "log/slog"

// Options defines the configurable parameters for one database handle.
type Options struct {
	// Create the file when the path does not exist.
	Create bool

	// MboxSort orders keys in mailbox-hierarchy order ('.' sorts
	// before all other bytes) instead of raw byte order. The choice is
	// fixed for the lifetime of the file.
	MboxSort bool

	// NoCompact disables the automatic post-commit checkpoint.
	// Explicit Checkpoint calls still work.
	NoCompact bool

	// Recover runs crash recovery at open when the file was left
	// dirty. Disable only for forensic inspection of a damaged file.
	Recover bool

	// Logger receives the engine's structured log output.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// OptionFunc is a function type that modifies a database's configuration.
type OptionFunc func(*Options)

// NewDefaultOptions returns the default configuration.
func NewDefaultOptions() Options {
	return Options{Recover: true}
}

// WithCreate makes open create the file when missing.
func WithCreate() OptionFunc {
	return func(o *Options) { o.Create = true }
}

// WithMboxSort selects the mailbox-hierarchy comparator.
func WithMboxSort() OptionFunc {
	return func(o *Options) { o.MboxSort = true }
}

// WithNoCompact disables automatic compaction.
func WithNoCompact() OptionFunc {
	return func(o *Options) { o.NoCompact = true }
}

// WithRecover controls recovery-at-open.
func WithRecover(recover bool) OptionFunc {
	return func(o *Options) { o.Recover = recover }
}

// WithLogger sets the logger the engine reports through.
func WithLogger(l *slog.Logger) OptionFunc {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
