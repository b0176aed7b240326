package utils

// AssertType returns from as a T, or an unexpected type error naming both types when it is
// something else. Mechanism lookups use it to hand back a concrete mechanism type.
func AssertType[T any](from interface{}) (T, error) {
	var zero T
	asserted, ok := from.(T)
	if !ok {
		return zero, NewUnexpectedTypeError[T](from)
	}
	return asserted, nil
}
