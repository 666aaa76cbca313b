package messaging

// outcomeKind discriminates the three ways a handler can finish.
type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeTransient
	outcomeFatal
)

// Outcome is the explicit verdict a handler returns for one work
// message. The consumer's acknowledgement branching is a pure function
// of this value: completed work is acked, transient failures are
// retried until the retry budget runs out, fatal failures go straight
// to the dead letter queue.
type Outcome struct {
	kind   outcomeKind
	result map[string]any
	err    error
}

// Completed reports success with a result summary.
func Completed(result map[string]any) Outcome {
	if result == nil {
		result = map[string]any{}
	}
	return Outcome{kind: outcomeCompleted, result: result}
}

// TransientFailure reports a failure worth retrying, such as an
// unavailable dependency.
func TransientFailure(err error) Outcome {
	return Outcome{kind: outcomeTransient, err: err}
}

// FatalFailure reports a failure no retry can fix, such as an invalid
// payload or missing entity.
func FatalFailure(err error) Outcome {
	return Outcome{kind: outcomeFatal, err: err}
}

// Succeeded reports whether the outcome is a completion.
func (o Outcome) Succeeded() bool { return o.kind == outcomeCompleted }

// Transient reports whether the outcome is a retryable failure.
func (o Outcome) Transient() bool { return o.kind == outcomeTransient }

// Result returns the success summary, nil unless Succeeded.
func (o Outcome) Result() map[string]any {
	if o.kind != outcomeCompleted {
		return nil
	}
	return o.result
}

// Err returns the failure, nil when Succeeded.
func (o Outcome) Err() error { return o.err }

// Reason returns the failure text, empty when Succeeded.
func (o Outcome) Reason() string {
	if o.err == nil {
		return ""
	}
	return o.err.Error()
}
