package model

// ErrValidation is returned when a request is structurally valid JSON but
// violates a field constraint.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
