package scanerr

import (
	"fmt"
	"time"
)

// UploadError is a failure before a job exists: the image was rejected,
// the request failed, or the response carried no job ID.
type UploadError struct {
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return "upload failed: " + e.Message + ": " + e.Err.Error()
	}
	return "upload failed: " + e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// TransportError is a streaming or polling failure after a job was accepted.
type TransportError struct {
	Transport string
	JobID     string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed for job %s: %v", e.Transport, e.JobID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is raised when polling exceeds its overall deadline.
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s: timed out after %s waiting for analysis", e.JobID, e.Timeout)
}

// TransformError is raised when a completed payload cannot become a result.
type TransformError struct {
	Message string
	Err     error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return "transform result: " + e.Message + ": " + e.Err.Error()
	}
	return "transform result: " + e.Message
}

func (e *TransformError) Unwrap() error { return e.Err }
