package ring_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/MrWong99/hark/pkg/audio/ring"
)

func mustNew(t *testing.T, capacity int) *ring.Ring {
	t.Helper()
	r, err := ring.New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return r
}

func TestNew_RejectsSmallCapacity(t *testing.T) {
	t.Parallel()

	_, err := ring.New(ring.MinCapacity - 1)
	if !errors.Is(err, ring.ErrCapacityTooSmall) {
		t.Fatalf("err = %v, want ErrCapacityTooSmall", err)
	}
}

func TestWrite_DropsWhenFull(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	payload := bytes.Repeat([]byte{0xAB}, 100)

	accepted := 0
	for r.Write(payload) {
		accepted++
		if accepted > 100 {
			t.Fatal("ring never filled")
		}
	}
	// 4095 usable bytes / 104 bytes per record.
	if accepted != 39 {
		t.Errorf("accepted %d records, want 39", accepted)
	}

	st := r.Stats()
	if st.Drops != 1 {
		t.Errorf("Drops = %d, want 1", st.Drops)
	}
	if st.DropBytes != 100 {
		t.Errorf("DropBytes = %d, want 100", st.DropBytes)
	}
	if st.Writes != 39 {
		t.Errorf("Writes = %d, want 39", st.Writes)
	}
	if st.Used != 39*104 {
		t.Errorf("Used = %d, want %d", st.Used, 39*104)
	}
	if st.Used+st.Free != st.Capacity-1 {
		t.Errorf("Used+Free = %d, want %d", st.Used+st.Free, st.Capacity-1)
	}

	// Freeing one record makes room again.
	buf := make([]byte, 256)
	if _, ok := r.Read(buf); !ok {
		t.Fatal("Read on full ring returned false")
	}
	if !r.Write(payload) {
		t.Error("Write after Read should succeed")
	}
}

func TestReadWrite_FIFOAcrossWrap(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	buf := make([]byte, 1024)

	next := byte(0)
	want := byte(0)
	for round := range 200 {
		// Odd sizes so records straddle the end of the buffer.
		for i := range 3 {
			size := 37 + (round*7+i*13)%300
			rec := bytes.Repeat([]byte{next}, size)
			if !r.Write(rec) {
				t.Fatalf("round %d: Write(%d) failed with %d free", round, size, r.Stats().Free)
			}
			next++
		}
		for range 3 {
			n, ok := r.Read(buf)
			if !ok {
				t.Fatalf("round %d: Read returned false", round)
			}
			for j := range n {
				if buf[j] != want {
					t.Fatalf("round %d: byte %d = %d, want %d", round, j, buf[j], want)
				}
			}
			want++
		}
	}
	if _, ok := r.Read(buf); ok {
		t.Error("Read on drained ring returned true")
	}
}

func TestRead_Truncates(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	r.Write([]byte("0123456789"))
	r.Write([]byte("abc"))

	small := make([]byte, 4)
	n, ok := r.Read(small)
	if !ok || n != 4 || string(small[:n]) != "0123" {
		t.Fatalf("Read = %q, %v; want \"0123\", true", small[:n], ok)
	}

	buf := make([]byte, 16)
	n, ok = r.Read(buf)
	if !ok || string(buf[:n]) != "abc" {
		t.Fatalf("second Read = %q, %v; want \"abc\", true", buf[:n], ok)
	}
}

func TestRead_EmptyRecord(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	if !r.Write(nil) {
		t.Fatal("Write(nil) failed")
	}
	n, ok := r.Read(make([]byte, 8))
	if !ok || n != 0 {
		t.Fatalf("Read = %d, %v; want 0, true", n, ok)
	}
}

func TestWriteTagged(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	r.WriteTagged(7, []byte{1, 2, 3})

	buf := make([]byte, 16)
	n, ok := r.Read(buf)
	if !ok || n != 7 {
		t.Fatalf("Read = %d, %v; want 7, true", n, ok)
	}
	if tag := binary.LittleEndian.Uint32(buf); tag != 7 {
		t.Errorf("tag = %d, want 7", tag)
	}
	if !bytes.Equal(buf[4:n], []byte{1, 2, 3}) {
		t.Errorf("payload = %v", buf[4:n])
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	r := mustNew(t, 4096)
	for range 5 {
		r.Write(make([]byte, 50))
	}
	r.Reset()

	st := r.Stats()
	if st.Used != 0 {
		t.Errorf("Used after Reset = %d, want 0", st.Used)
	}
	if st.Writes != 5 {
		t.Errorf("Writes after Reset = %d, want 5 (counters are kept)", st.Writes)
	}
	if _, ok := r.Read(make([]byte, 64)); ok {
		t.Error("Read after Reset returned true")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 20000
	r := mustNew(t, 8192)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := make([]byte, 64)
		for seq := range uint32(total) {
			binary.LittleEndian.PutUint32(rec, seq)
			r.Write(rec)
		}
	}()

	buf := make([]byte, 64)
	var last int64 = -1
	read := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

loop:
	for {
		n, ok := r.Read(buf)
		if !ok {
			select {
			case <-done:
				if r.Stats().Used == 0 {
					break loop
				}
			default:
			}
			runtime.Gosched()
			continue
		}
		if n != 64 {
			t.Fatalf("record length %d, want 64", n)
		}
		seq := int64(binary.LittleEndian.Uint32(buf))
		if seq <= last {
			t.Fatalf("sequence went backwards: %d after %d", seq, last)
		}
		last = seq
		read++
	}

	st := r.Stats()
	if uint64(read) != st.Writes {
		t.Errorf("read %d records, producer wrote %d", read, st.Writes)
	}
	if st.Writes+st.Drops != total {
		t.Errorf("Writes+Drops = %d, want %d", st.Writes+st.Drops, total)
	}
}
