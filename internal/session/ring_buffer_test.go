package session

import (
	"bytes"
	"fmt"
	"testing"
)

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	if data := rb.Bytes(); len(data) != 0 {
		t.Errorf("expected empty buffer, got %q", data)
	}
	if !rb.Drained() {
		t.Error("empty buffer should be drained")
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("abc"))
	rb.Write([]byte("de"))

	if got := string(rb.Bytes()); got != "abcde" {
		t.Errorf("expected abcde, got %q", got)
	}
	if rb.Len() != 5 || rb.Written() != 5 {
		t.Errorf("expected len 5, got len %d written %d", rb.Len(), rb.Written())
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write([]byte(fmt.Sprint(i)))
	}

	// Oldest bytes are dropped.
	if got := string(rb.Bytes()); got != "34567" {
		t.Errorf("expected 34567, got %q", got)
	}
	if rb.Len() != rb.Cap() {
		t.Errorf("expected len == cap, got %d", rb.Len())
	}
}

func TestRingBuffer_ExactCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Write([]byte("xyz"))
	if got := string(rb.Bytes()); got != "xyz" {
		t.Errorf("expected xyz, got %q", got)
	}
}

func TestRingBuffer_LargeWriteKeepsTail(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte("ab"))
	rb.Write([]byte("0123456789"))
	if got := string(rb.Bytes()); got != "6789" {
		t.Errorf("expected 6789, got %q", got)
	}
	if rb.Written() != 12 {
		t.Errorf("expected 12 written, got %d", rb.Written())
	}
}

func TestRingBuffer_Bounded(t *testing.T) {
	rb := NewRingBuffer(1024)
	chunk := bytes.Repeat([]byte("x"), 1000)
	for i := 0; i < 100; i++ {
		rb.Write(chunk)
	}
	rb.Write([]byte("tail"))
	data := rb.Bytes()
	if len(data) != 1024 || cap(rb.buf) != 1024 {
		t.Errorf("expected storage capped at 1024, got len %d cap %d", len(data), cap(rb.buf))
	}
	if !bytes.HasSuffix(data, []byte("tail")) {
		t.Error("most recent bytes must be retained")
	}
}

func TestRingBuffer_ReadCursor(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("hello"))

	if got := string(rb.ReadCursor(false)); got != "hello" {
		t.Errorf("peek: expected hello, got %q", got)
	}
	if got := string(rb.ReadCursor(true)); got != "hello" {
		t.Errorf("read: expected hello, got %q", got)
	}
	if got := rb.ReadCursor(true); len(got) != 0 {
		t.Errorf("expected nothing after clear, got %q", got)
	}
	if !rb.Drained() {
		t.Error("expected drained after clear")
	}

	rb.Write([]byte(" world"))
	if rb.Drained() {
		t.Error("new data should undrain the buffer")
	}
	if got := string(rb.ReadCursor(true)); got != " world" {
		t.Errorf("expected only new bytes, got %q", got)
	}
	// Clearing never discards retained history.
	if got := string(rb.Bytes()); got != "hello world" {
		t.Errorf("expected full history, got %q", got)
	}
}

func TestRingBuffer_ReadCursorEvicted(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte("ab"))
	rb.ReadCursor(true)
	rb.Write([]byte("cdefgh"))
	if got := string(rb.ReadCursor(true)); got != "efgh" {
		t.Errorf("expected resume at oldest retained byte, got %q", got)
	}
}

func TestRingBuffer_Since(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte("abc"))

	a, posA := rb.Since(0)
	if string(a) != "abc" || posA != 3 {
		t.Errorf("expected abc@3, got %q@%d", a, posA)
	}

	rb.Write([]byte("de"))
	b, posB := rb.Since(posA)
	if string(b) != "de" || posB != 5 {
		t.Errorf("expected de@5, got %q@%d", b, posB)
	}

	// A lagging viewer resumes at the oldest retained byte.
	rb.Write([]byte("0123456789"))
	c, _ := rb.Since(posB)
	if string(c) != "23456789" {
		t.Errorf("expected suffix 23456789, got %q", c)
	}

	if d, pos := rb.Since(rb.Written()); len(d) != 0 || pos != rb.Written() {
		t.Errorf("expected nothing at the end, got %q@%d", d, pos)
	}
}
