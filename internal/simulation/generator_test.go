package simulation

import (
	"bytes"
	"testing"
)

func TestDecodeImage(t *testing.T) {
	raw := []byte("jpeg-bytes")
	encoded := EncodeImage(raw)

	cases := []string{
		encoded,
		"data:image/jpeg;base64," + encoded,
		"base64," + encoded,
	}
	for _, in := range cases {
		got, err := DecodeImage(in)
		if err != nil {
			t.Fatalf("DecodeImage(%q): %v", in, err)
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("DecodeImage(%q) = %q, want %q", in, got, raw)
		}
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	if _, err := DecodeImage("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when base URL is missing")
	}
}
