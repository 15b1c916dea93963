package core

// ErrorKind is the finite classification of a generation or execution failure.
type ErrorKind string

const (
	ErrKindSyntax         ErrorKind = "syntax_error"
	ErrKindTimeout        ErrorKind = "execution_timeout"
	ErrKindConnection     ErrorKind = "connection_error"
	ErrKindPermission     ErrorKind = "permission_error"
	ErrKindObjectNotFound ErrorKind = "object_not_found"
	ErrKindField          ErrorKind = "field_error"
	ErrKindUnknown        ErrorKind = "unknown"
)

// ErrorRecord captures one classified failure. The failing SQL text is kept
// verbatim so the next generation attempt always sees what failed and why.
type ErrorRecord struct {
	Kind           ErrorKind `json:"kind"`
	Message        string    `json:"message"`
	FailedSQL      string    `json:"failed_sql,omitempty"`
	OccurredAtStep string    `json:"occurred_at_step"`
}
