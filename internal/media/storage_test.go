package media

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryStorageUpload(t *testing.T) {
	m := NewMemoryStorage()

	url, err := m.Upload(context.Background(), "clinic_1/conv_1/123-original.jpg", "image/jpeg", []byte("photo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "memory://clinic_1/conv_1/123-original.jpg" {
		t.Errorf("url = %q", url)
	}

	data, ok := m.Get("clinic_1/conv_1/123-original.jpg")
	if !ok || !bytes.Equal(data, []byte("photo")) {
		t.Errorf("stored object = %q, ok = %v", data, ok)
	}
	if m.Count() != 1 {
		t.Errorf("count = %d, want 1", m.Count())
	}
}
