package tasks

import "errors"

// Result is the outcome of a service call: a value or a rejection.
type Result[T any] struct {
	data T
	err  error
}

func Resolve[T any](data T) Result[T] {
	return Result[T]{data: data}
}

func Reject[T any](msg string) Result[T] {
	return Result[T]{err: errors.New(msg)}
}

// RejectErr keeps err in the chain so callers can match it with errors.Is.
func RejectErr[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) OK() bool { return r.err == nil }

func (r Result[T]) Unpack() (T, error) {
	return r.data, r.err
}
