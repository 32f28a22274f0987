package composer

import "fmt"

// ValidationError rejects an empty submission before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// UploadError aborts the whole submission: no message row is persisted when
// any attachment fails to upload.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
