package vfs

import (
	"bytes"
	"gopheros/kernel"
	"testing"
)

func TestPipeWriteReadRoundTrip(t *testing.T) {
	p := NewPipe()
	if _, err := p.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	buf := make([]byte, 5)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if n != 5 || !bytes.Equal(buf, []byte("hello")) {
		t.Fatalf("expected hello, got %q", buf[:n])
	}
}

func TestPipeReadEmptyReportsWouldBlock(t *testing.T) {
	p := NewPipe()
	_, err := p.Read(make([]byte, 1))
	if err == nil || err.Status != kernel.StatusWouldBlock {
		t.Fatalf("expected StatusWouldBlock, got %v", err)
	}
}

func TestPipeWriteFullReportsWouldBlock(t *testing.T) {
	p := NewPipe()
	big := make([]byte, pipeBufSize)
	if _, err := p.Write(big); err != nil {
		t.Fatalf("unexpected error filling the pipe: %v", err)
	}
	if _, err := p.Write([]byte("x")); err == nil || err.Status != kernel.StatusWouldBlock {
		t.Fatalf("expected StatusWouldBlock on a full pipe, got %v", err)
	}
}

func TestPipeAtomicWriteUnderPIPEBUFIsAllOrNothing(t *testing.T) {
	p := NewPipe()
	// Leave less free space than the next write's length.
	filler := make([]byte, pipeBufSize-10)
	if _, err := p.Write(filler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	small := make([]byte, 20) // > free space (10), but <= PIPE_BUF
	n, err := p.Write(small)
	if n != 0 || err == nil || err.Status != kernel.StatusWouldBlock {
		t.Fatalf("expected an atomic write exceeding free space to transfer nothing, got n=%d err=%v", n, err)
	}
}

func TestPipeEOFOnWriterClose(t *testing.T) {
	p := NewPipe()
	p.CloseWriter()

	_, err := p.Read(make([]byte, 1))
	if err == nil || err.Status != kernel.StatusEOF {
		t.Fatalf("expected StatusEOF, got %v", err)
	}
}

func TestPipeSIGPIPEOnReaderClose(t *testing.T) {
	p := NewPipe()
	p.CloseReader()

	_, err := p.Write([]byte("x"))
	if err == nil || err.Status != kernel.StatusPipeClosed {
		t.Fatalf("expected StatusPipeClosed, got %v", err)
	}
}

func TestPipeEvents(t *testing.T) {
	p := NewPipe()
	if !p.Empty() || p.DataAvailable() {
		t.Fatal("expected a fresh pipe to be empty")
	}
	if p.WriteSpace() != pipeBufSize {
		t.Fatalf("expected full write space, got %d", p.WriteSpace())
	}

	p.Write([]byte("x"))
	if p.Empty() || !p.DataAvailable() {
		t.Fatal("expected data to be available after a write")
	}
	if p.WriteSpace() != pipeBufSize-1 {
		t.Fatalf("expected write space reduced by 1, got %d", p.WriteSpace())
	}
}
