package wire

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte("hello")
	b := Encode(42, false, payload)

	ticket, absent, got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ticket != 42 || absent || !bytes.Equal(got, payload) {
		t.Fatalf("Decode mismatch: ticket=%d absent=%v payload=%q", ticket, absent, got)
	}
}

func TestAbsentMarker(t *testing.T) {
	// payload is discarded when absent is set
	b := Encode(7, true, []byte("ignored"))

	ticket, absent, payload, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ticket != 7 || !absent || len(payload) != 0 {
		t.Fatalf("absent frame mismatch: ticket=%d absent=%v payload=%q", ticket, absent, payload)
	}
}

func TestNegativeTicket(t *testing.T) {
	b := Encode(-1, false, nil)
	ticket, _, _, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ticket != -1 {
		t.Fatalf("ticket: want -1, got %d", ticket)
	}
}

func TestCorrupt(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("x"),
		[]byte("not-a-frame-at-all"),
		Encode(1, false, []byte("v"))[:headerLen-1], // truncated header
	}
	for _, b := range cases {
		if _, _, _, err := Decode(b); err != ErrCorrupt {
			t.Fatalf("Decode(%q): want ErrCorrupt, got %v", b, err)
		}
	}

	// declared length larger than the buffer
	b := Encode(1, false, []byte("value"))
	if _, _, _, err := Decode(b[:len(b)-2]); err != ErrCorrupt {
		t.Fatalf("short payload: want ErrCorrupt, got %v", err)
	}
}
