package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	payloads := [][]byte{
		[]byte("{}"),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"list_tools"}`),
		bytes.Repeat([]byte{0xab}, 65536),
		{0x00}, // a single NUL byte is a valid payload
	}
	for _, p := range payloads {
		got, err := Decode(Encode(p))
		if err != nil {
			t.Fatalf("Decode(Encode(%d bytes)): %v", len(p), err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch for %d-byte payload", len(p))
		}
	}
}

func TestWriteReadFrame_Stream(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	payload := []byte(`{"jsonrpc":"2.0","id":9,"result":null}`)

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}
	// Header must be big-endian payload length.
	head := buf.Bytes()[:HeaderSize]
	if head[0] != 0 || head[1] != 0 || head[2] != 0 || int(head[3]) != len(payload) {
		t.Fatalf("bad header % x", head)
	}

	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestWriteFrame_EmptyPayload(t *testing.T) {
	t.Parallel()
	if err := WriteFrame(io.Discard, nil); err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	t.Parallel()
	data := Encode(bytes.Repeat([]byte{'x'}, 100))
	_, err := ReadFrame(bytes.NewReader(data), 64)
	if err == nil {
		t.Fatal("expected payload-too-large error")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("exceeds maximum")) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	t.Parallel()
	data := Encode([]byte("hello"))
	_, err := ReadFrame(bytes.NewReader(data[:len(data)-2]), 0)
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestReadFrameInto_ReusesAndGrows(t *testing.T) {
	t.Parallel()
	small := make([]byte, 8)
	payload := bytes.Repeat([]byte{'y'}, 5000)

	var stream bytes.Buffer
	if err := WriteFrame(&stream, payload); err != nil {
		t.Fatal(err)
	}

	got, grown, err := ReadFrameInto(&stream, small, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
	if len(grown) < 5000 {
		t.Fatalf("buffer should have grown, len=%d", len(grown))
	}
	if len(grown)%4096 != 0 {
		t.Fatalf("grown buffer should land on a 4 KiB boundary, len=%d", len(grown))
	}
}

func TestGrowSize(t *testing.T) {
	t.Parallel()
	cases := []struct{ current, need, want int }{
		{0, 100, 4096},
		{4096, 5000, 8192},  // 4096*1.5=6144 -> next 4 KiB
		{8192, 20000, 20480},
	}
	for _, c := range cases {
		if got := GrowSize(c.current, c.need); got != c.want {
			t.Errorf("GrowSize(%d,%d) = %d, want %d", c.current, c.need, got, c.want)
		}
	}
}
