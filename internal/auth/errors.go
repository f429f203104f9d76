package auth

import "fmt"

// RenewalError is reported when a scheduled renewal fails. Stage is "acquire" when
// the source failed and "push" when the new token could not be sent upstream.
type RenewalError struct {
	Stage string
	Err   error
}

func (e *RenewalError) Error() string {
	return fmt.Sprintf("token renewal (%s): %v", e.Stage, e.Err)
}

func (e *RenewalError) Unwrap() error { return e.Err }
