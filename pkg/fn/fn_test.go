package fn

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Must should panic on Err")
		}
	}()
	Err[int](errors.New("boom")).Must()
}

func TestFromPair(t *testing.T) {
	if FromPair(strconv.Atoi("42")).Must() != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

// --- Stages ---

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("fail")) })
	track := Stage[int, string](func(_ context.Context, v int) Result[string] {
		called = true
		return Ok(strconv.Itoa(v))
	})
	r := Then(fail, track)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("Then should stop at the first failure")
	}
}

func TestThenComposes(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	str := Stage[int, string](func(_ context.Context, v int) Result[string] { return Ok(strconv.Itoa(v)) })
	if got := TracedStage("compose", Then(double, str))(context.Background(), 21).Must(); got != "42" {
		t.Fatalf("got %q", got)
	}
}

func TestTracedStagePassesError(t *testing.T) {
	want := errors.New("x")
	s := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] { return Err[int](want) }))
	if _, err := s(context.Background(), 0).Unwrap(); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

// --- Retry ---

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(calls)
	})
	if r.Must() != 3 {
		t.Fatal("expected success on third attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("nope"))
	})
	if r.IsOk() || calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, Retryable: func(err error) bool {
		return !errors.Is(err, permanent)
	}}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if r.IsOk() || calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

// --- Sequences ---

func TestBatched(t *testing.T) {
	var got [][]int
	for b := range Batched(slices.Values([]int{1, 2, 3, 4, 5}), 2) {
		got = append(got, b)
	}
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Fatalf("got %v", got)
	}

	for range Batched(slices.Values([]int(nil)), 3) {
		t.Fatal("empty seq should yield no batches")
	}
}

func TestBatchedStopsEarly(t *testing.T) {
	pulled := 0
	src := func(yield func(int) bool) {
		for i := range 100 {
			pulled++
			if !yield(i) {
				return
			}
		}
	}
	for range Batched(src, 4) {
		break
	}
	if pulled != 4 {
		t.Fatalf("pulled %d items", pulled)
	}
}

func TestBatchedPanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Batched(slices.Values([]int{1}), 0)
}

func TestFilterMapAndTake(t *testing.T) {
	parsed := FilterMap(slices.Values([]string{"1", "x", "3", "4"}), func(s string) (int, bool) {
		v, err := strconv.Atoi(s)
		return v, err == nil
	})
	if got := slices.Collect(Take(parsed, 2)); !slices.Equal(got, []int{1, 3}) {
		t.Fatalf("got %v", got)
	}
	if got := slices.Collect(Take(parsed, 0)); len(got) != 3 {
		t.Fatalf("Take(0) should not limit, got %v", got)
	}
}

func TestUntilDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pulled := 0
	seq := func(yield func(int) bool) {
		for i := 0; ; i++ {
			pulled++
			if i == 3 {
				cancel()
			}
			if !yield(i) {
				return
			}
		}
	}
	got := slices.Collect(UntilDone(ctx, seq))
	if !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("got %v", got)
	}
	if pulled != 4 {
		t.Fatalf("pulled %d items, want 4", pulled)
	}
	if len(slices.Collect(UntilDone(ctx, seq))) != 0 {
		t.Fatal("done context should yield nothing")
	}
}

func TestPeek(t *testing.T) {
	first, rest, ok, stop := Peek(slices.Values([]string{"a", "b", "c"}))
	defer stop()
	if !ok || first != "a" {
		t.Fatalf("first = %q ok=%v", first, ok)
	}
	if got := slices.Collect(rest); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("rest = %v", got)
	}

	_, empty, ok, stop2 := Peek(slices.Values([]string(nil)))
	defer stop2()
	if ok || len(slices.Collect(empty)) != 0 {
		t.Fatal("empty Peek should report !ok")
	}
}
