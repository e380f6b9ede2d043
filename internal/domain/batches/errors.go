package batches

import (
	"errors"
	"fmt"
)

// DataError marks an analysis failure caused by the study data itself:
// the image set is incompatible with the selected phantom, has too few
// slices, and so on. Any other analyzer error is treated as unexpected.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return e.Reason }

// NewDataError builds a DataError with a formatted reason.
func NewDataError(format string, args ...any) *DataError {
	return &DataError{Reason: fmt.Sprintf(format, args...)}
}

// KindOf maps an analyzer error to its report classification.
func KindOf(err error) ErrorKind {
	var de *DataError
	if errors.As(err, &de) {
		return ErrorKindData
	}
	return ErrorKindUnexpected
}
