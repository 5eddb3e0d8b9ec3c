package fn

import (
	"context"
	"iter"
)

// Batched groups seq into slices of at most n items. The final batch may be
// short; an empty seq yields nothing. n must be positive.
func Batched[T any](seq iter.Seq[T], n int) iter.Seq[[]T] {
	if n <= 0 {
		panic("fn: Batched size must be positive")
	}
	return func(yield func([]T) bool) {
		batch := make([]T, 0, n)
		for v := range seq {
			batch = append(batch, v)
			if len(batch) == n {
				if !yield(batch) {
					return
				}
				batch = make([]T, 0, n)
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}

// FilterMap applies f lazily and keeps values where ok is true.
func FilterMap[T, U any](seq iter.Seq[T], f func(T) (U, bool)) iter.Seq[U] {
	return func(yield func(U) bool) {
		for v := range seq {
			if u, ok := f(v); ok {
				if !yield(u) {
					return
				}
			}
		}
	}
}

// UntilDone yields from seq until ctx is done. At most one item is pulled
// after cancellation and it is dropped.
func UntilDone[T any](ctx context.Context, seq iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		if ctx.Err() != nil {
			return
		}
		for v := range seq {
			if ctx.Err() != nil || !yield(v) {
				return
			}
		}
	}
}

// Take yields at most n items from seq. n <= 0 means no limit.
func Take[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	if n <= 0 {
		return seq
	}
	return func(yield func(T) bool) {
		i := 0
		for v := range seq {
			if !yield(v) {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Peek pulls the first item of seq. The returned seq replays it followed by
// the rest. ok is false when seq is empty. stop releases the underlying
// iterator and must be called once the returned seq is no longer needed.
func Peek[T any](seq iter.Seq[T]) (first T, rest iter.Seq[T], ok bool, stop func()) {
	next, stop := iter.Pull(seq)
	first, ok = next()
	rest = func(yield func(T) bool) {
		if !ok || !yield(first) {
			return
		}
		for {
			v, more := next()
			if !more || !yield(v) {
				return
			}
		}
	}
	return first, rest, ok, stop
}
