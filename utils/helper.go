package utils

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
