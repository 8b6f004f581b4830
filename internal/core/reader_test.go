package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"with BOM", append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...), "a,b"},
		{"without BOM", []byte("a,b"), "a,b"},
		{"empty", nil, ""},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"partial BOM kept", []byte{0xEF, 0xBB, 'x'}, string([]byte{0xEF, 0xBB, 'x'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(SkipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"ascii", []byte("a,b\n"), "a,b\n"},
		{"multibyte kept", []byte("Zoë,Straße"), "Zoë,Straße"},
		{"invalid byte", []byte{'h', 'e', 0x80, 'l', 'o'}, "he?lo"},
		{"truncated sequence", []byte{'x', 0xE2, 0x82}, "x??"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8Sanitizer_TinyBuffer(t *testing.T) {
	s := NewUTF8Sanitizer(strings.NewReader("€uro"))
	var out []byte
	buf := make([]byte, 1)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}
	if string(out) != "€uro" {
		t.Errorf("got %q, want %q", out, "€uro")
	}
}

func TestCountingReader_Limit(t *testing.T) {
	c := NewCountingReader(strings.NewReader(strings.Repeat("x", 100)), 10)
	_, err := io.ReadAll(c)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("ReadAll() error = %v, want ErrFileTooLarge", err)
	}

	c = NewCountingReader(strings.NewReader("abc"), 0)
	if _, err := io.ReadAll(c); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if c.BytesRead() != 3 {
		t.Errorf("BytesRead() = %d, want 3", c.BytesRead())
	}
}

func TestOpenSource(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte{'h', 'e', 0x80, 'l', 'o'}...)
	src := OpenSource(bytes.NewReader(raw), 0)

	got, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "he?lo" {
		t.Errorf("got %q, want %q", got, "he?lo")
	}
	if src.BytesRead() != int64(len(raw)) {
		t.Errorf("BytesRead() = %d, want %d", src.BytesRead(), len(raw))
	}

	sum := sha256.Sum256(raw)
	if src.Checksum() != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum() = %s, want hash of raw bytes", src.Checksum())
	}
}
