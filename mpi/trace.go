package mpi

// TraceAttribute represents a tracing attribute attached to spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans around environment lifecycle and completion calls.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

func startSpan(name string, attrs ...TraceAttribute) Span {
	t := hooks().tracer
	if t == nil {
		return nil
	}
	return t.StartSpan(name, attrs...)
}

func endSpan(span Span, err error) {
	if span == nil {
		return
	}
	span.End(err)
}

func spanAddEvent(span Span, name string, attrs ...TraceAttribute) {
	if span == nil {
		return
	}
	span.AddEvent(name, attrs...)
}
