package binding

import "fmt"

// MaxLength is the largest buffer a guest may allocate or address,
// matching buffer.kMaxLength.
const MaxLength = 0x7fffffff

// RangeError rejects a size or offset outside [0, MaxLength]. Guests see
// it as a RangeError.
type RangeError struct {
	Name  string
	Value int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf(`The value of "%s" is out of range. It must be >= 0 && <= %d. Received %d`, e.Name, MaxLength, e.Value)
}

// CheckLength returns a *RangeError unless 0 <= n <= MaxLength.
func CheckLength(name string, n int64) error {
	if n < 0 || n > MaxLength {
		return &RangeError{Name: name, Value: n}
	}
	return nil
}
