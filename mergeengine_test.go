package extsort

import "testing"

// sliceRunSource is a runSource over a fixed, pre-sorted slice of keys;
// used to exercise mergeEngine in isolation from Readers and temp files.
type sliceRunSource struct {
	keys []string
	i    int
}

func newSliceRunSource(keys ...string) *sliceRunSource {
	return &sliceRunSource{keys: keys, i: -1}
}

func (s *sliceRunSource) Next() (bool, error) {
	s.i++
	return s.i < len(s.keys), nil
}

func (s *sliceRunSource) Key() []byte {
	if s.i < 0 || s.i >= len(s.keys) {
		return nil
	}
	return []byte(s.keys[s.i])
}

func drainEngine(t *testing.T, m *mergeEngine) []string {
	t.Helper()
	var out []string
	for {
		ok, err := m.Next()
		if err != nil {
			t.Fatalf("merge engine next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, string(m.Key()))
	}
	return out
}

func TestMergeEngineBasic(t *testing.T) {
	readers := []runSource{
		newSliceRunSource("a", "d", "g"),
		newSliceRunSource("b", "e"),
		newSliceRunSource("c", "f", "h", "i"),
	}
	m := newMergeEngine(byteComparator, readers)
	got := drainEngine(t, m)
	want := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestMergeEngineStableTieBreak(t *testing.T) {
	// Equal keys across readers must prefer the lower reader index — the
	// "older" data — on every tie.
	readers := []runSource{
		newSliceRunSource("x", "x"),
		newSliceRunSource("x"),
	}
	m := newMergeEngine(byteComparator, readers)

	ok, err := m.Next()
	if err != nil || !ok {
		t.Fatalf("first next: ok=%v err=%v", ok, err)
	}
	if winner := m.tree[1]; winner != 0 {
		t.Fatalf("first winner should be reader 0, got %d", winner)
	}
}

func TestMergeEngineEmptyReaders(t *testing.T) {
	readers := []runSource{newSliceRunSource(), newSliceRunSource()}
	m := newMergeEngine(byteComparator, readers)
	ok, err := m.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ok {
		t.Fatalf("expected immediate exhaustion, got a key %q", m.Key())
	}
}

func TestMergeEngineNonPowerOfTwoFanout(t *testing.T) {
	readers := []runSource{
		newSliceRunSource("5"),
		newSliceRunSource("1"),
		newSliceRunSource("3"),
	}
	m := newMergeEngine(byteComparator, readers)
	if len(m.readers) != 4 {
		t.Fatalf("expected tree padded to next power of two (4), got %d", len(m.readers))
	}
	got := drainEngine(t, m)
	want := []string{"1", "3", "5"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestMergeEngineComposesAsRunSource(t *testing.T) {
	// A mergeEngine is itself a runSource, so trees compose.
	inner := newMergeEngine(byteComparator, []runSource{
		newSliceRunSource("b", "d"),
		newSliceRunSource("a", "c"),
	})
	outer := newMergeEngine(byteComparator, []runSource{
		inner,
		newSliceRunSource("e", "f"),
	})
	got := drainEngine(t, outer)
	want := []string{"a", "b", "c", "d", "e", "f"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q", i, got[i], want[i])
		}
	}
}
