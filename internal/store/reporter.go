package store

// ErrorReporter receives failures a store handled instead of returning.
// Report must not block and must not panic.
type ErrorReporter interface {
	Report(tag string, err error)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(tag string, err error)

func (f ReporterFunc) Report(tag string, err error) {
	f(tag, err)
}

type discardReporter struct{}

func (discardReporter) Report(string, error) {}

// Discard drops every report.
var Discard ErrorReporter = discardReporter{}

func reporterOrDiscard(r ErrorReporter) ErrorReporter {
	if r == nil {
		return Discard
	}
	return r
}
