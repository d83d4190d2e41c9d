package approval

// ValidationError marks user-correctable input problems (blank fields,
// short payloads, unrecognized faces). Handlers surface it as 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(msg string) error { return &ValidationError{Message: msg} }

// ConflictError marks duplicate-name collisions. Surfaced as 400, like
// the other user-correctable failures.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError marks lookups of unknown names or session ids. Surfaced
// as 404.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }
