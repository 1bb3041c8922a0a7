package reassembler

import (
	"math/rand"
	"testing"

	"github.com/rdtproto/rdt/bytestream"
)

func TestInOrderDelivery(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(0, []byte("hello"), false)
	r.Insert(5, []byte("world"), true)
	if got := string(s.Pop(10)); got != "helloworld" {
		t.Fatalf("got %q", got)
	}
	if !s.IsFinished() {
		t.Fatal("stream not finished after EOF drained")
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(5, []byte("world"), true)
	if r.CountBytesPending() != 5 {
		t.Fatalf("pending = %d, want 5", r.CountBytesPending())
	}
	r.Insert(0, []byte("hello"), false)
	if got := string(s.Pop(10)); got != "helloworld" {
		t.Fatalf("got %q", got)
	}
	if !s.IsFinished() {
		t.Fatal("stream not finished")
	}
}

func TestOverlappingFirstWriteWins(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(0, []byte("abcd"), false)
	r.Insert(2, []byte("XXXX"), false)
	if got := string(s.Pop(6)); got != "abcdXX" {
		t.Fatalf("got %q", got)
	}
}

func TestDuplicateInsertIsNoOp(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(0, []byte("abc"), false)
	r.Insert(0, []byte("abc"), false)
	if got := string(s.Pop(3)); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if r.CountBytesPending() != 0 {
		t.Fatalf("pending = %d, want 0", r.CountBytesPending())
	}
}

func TestEntirelyBeyondWindowDoesNotSetEOF(t *testing.T) {
	s := bytestream.New(4)
	r := New(s)
	r.Insert(100, []byte("x"), true)
	if s.IsClosed() {
		t.Fatal("stream closed from a drop beyond the window")
	}
	if r.CountBytesPending() != 0 {
		t.Fatalf("pending = %d, want 0", r.CountBytesPending())
	}
}

func TestEmptyEOFAtRightEdgeClosesAfterDrain(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(0, []byte("ab"), false)
	r.Insert(2, nil, true)
	if got := string(s.Pop(2)); got != "ab" {
		t.Fatalf("got %q", got)
	}
	if !s.IsClosed() {
		t.Fatal("stream not closed after empty EOF segment at right edge")
	}
}

func TestRetransmittedFinOfAssembledBytesStillCloses(t *testing.T) {
	s := bytestream.New(64)
	r := New(s)
	r.Insert(0, []byte("abc"), false)
	if got := string(s.Pop(3)); got != "abc" {
		t.Fatalf("got %q", got)
	}
	// A FIN retransmission covering only already-assembled bytes must
	// still close the stream.
	r.Insert(0, []byte("abc"), true)
	if !s.IsClosed() {
		t.Fatal("stream not closed by FIN over already-assembled bytes")
	}
}

func TestClippedEOFNotRememberedUntilWindowAdmitsIt(t *testing.T) {
	s := bytestream.New(4)
	r := New(s)
	// Window is [0,4). This segment's last byte (index 4) does not fit.
	r.Insert(0, []byte("abcde"), true)
	if got := string(s.Pop(4)); got != "abcd" {
		t.Fatalf("got %q", got)
	}
	if s.IsClosed() {
		t.Fatal("stream closed even though EOF byte was clipped out of the window")
	}
}

func TestPermutationsOfNonOverlappingSegments(t *testing.T) {
	const n = 200
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}

	type seg struct {
		start int
		data  []byte
		last  bool
	}
	var segs []seg
	for i := 0; i < n; {
		end := i + 1 + rand.Intn(5)
		if end > n {
			end = n
		}
		segs = append(segs, seg{start: i, data: data[i:end], last: end == n})
		i = end
	}

	rand.Shuffle(len(segs), func(i, j int) { segs[i], segs[j] = segs[j], segs[i] })

	s := bytestream.New(n)
	r := New(s)
	for _, sg := range segs {
		r.Insert(uint64(sg.start), sg.data, sg.last)
	}

	got := s.Pop(n)
	if !s.IsFinished() {
		t.Fatal("stream not finished after all permuted segments inserted")
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestByteAccounting(t *testing.T) {
	s := bytestream.New(10)
	r := New(s)

	var insertedLen, droppedBeyondWindow int

	r.Insert(0, []byte("abc"), false)
	insertedLen += 3

	// Entirely beyond the window: dropped.
	r.Insert(50, []byte("zzz"), false)
	insertedLen += 3
	droppedBeyondWindow += 3

	r.Insert(3, []byte("def"), false)
	insertedLen += 3

	pending := r.CountBytesPending()
	pushed := int(s.BytesPushed())
	if pending+pushed+droppedBeyondWindow != insertedLen {
		t.Fatalf("pending=%d pushed=%d dropped=%d inserted=%d", pending, pushed, droppedBeyondWindow, insertedLen)
	}
}
