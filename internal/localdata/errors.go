package localdata

import (
	"encoding/json"
	"fmt"
)

// StoreError is the single error shape for local-storage read failures. It
// carries the original message, or a serialized form of a failure that was
// not an error value.
type StoreError struct {
	Message string
	cause   error
}

func (e *StoreError) Error() string { return e.Message }

func (e *StoreError) Unwrap() error { return e.cause }

func normalize(v any) error {
	switch x := v.(type) {
	case *StoreError:
		return x
	case error:
		return &StoreError{Message: x.Error(), cause: x}
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return &StoreError{Message: fmt.Sprintf("%v", x)}
		}
		return &StoreError{Message: string(data)}
	}
}
