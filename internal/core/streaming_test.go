package core

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestNewTextReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("Rec#\tAmps")...),
			expected: "Rec#\tAmps",
		},
		{
			name:     "file without BOM",
			input:    []byte("Rec#\tAmps"),
			expected: "Rec#\tAmps",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM is sanitized not dropped",
			input:    []byte{0xEF, 0xBB, 'a', 'b'},
			expected: "??ab",
		},
		{
			name:     "invalid byte replaced",
			input:    []byte{'T', 'e', 0x80, 'm', 'p'},
			expected: "Te?mp",
		},
		{
			name:     "valid multibyte kept",
			input:    []byte("Temp °C"),
			expected: "Temp °C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(NewTextReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", string(got), tt.expected)
			}
		})
	}
}

func TestNewTextReader_SplitMultibyte(t *testing.T) {
	input := []byte("a°b°c")

	// OneByteReader forces every multibyte rune to straddle reads.
	got, err := io.ReadAll(NewTextReader(iotest.OneByteReader(bytes.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(input) {
		t.Errorf("got %q, want %q", string(got), string(input))
	}
}

func TestCountingReader(t *testing.T) {
	cr := NewCountingReader(bytes.NewReader([]byte("12345")))
	if _, err := io.ReadAll(cr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cr.BytesRead != 5 {
		t.Errorf("got %d, want 5", cr.BytesRead)
	}
}
