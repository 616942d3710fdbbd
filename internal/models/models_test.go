package models

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"both parts", `{"subjectIdentification":{"firstName":"Jane","lastName":"Doe"}}`, "Jane Doe"},
		{"missing last", `{"subjectIdentification":{"firstName":"Jane"}}`, "Jane Unknown"},
		{"missing block", `{"id":1}`, "Unknown Unknown"},
		{"invalid json", `{`, "Unknown Unknown"},
		{"empty", ``, "Unknown Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{ID: 1, Document: []byte(tt.doc)}
			if got := r.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
	if PlaceholderName() != "Unknown Unknown" {
		t.Errorf("PlaceholderName() = %q", PlaceholderName())
	}
}

func TestKey_NameAndOrder(t *testing.T) {
	keys := []Key{
		AssetKey(ModalityImage, 2, 7),
		AssetKey(ModalityImage, 10, 1),
		RecordKey(ModalityImage, 2),
		AssetKey(ModalityImage, 2, 3),
		RecordKey(ModalityImage, 1),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	want := []string{"1", "2", "2_3", "2_7", "10_1"}
	for i, k := range keys {
		if k.Name() != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, k.Name(), want[i])
		}
	}
	if got := AssetKey(ModalityText, 4, 5).String(); got != "text/4_5" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseModality(t *testing.T) {
	if m, err := ParseModality("image"); err != nil || m != ModalityImage {
		t.Errorf("ParseModality(image) = %v, %v", m, err)
	}
	if _, err := ParseModality("audio"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestTypedErrors(t *testing.T) {
	dim := fmt.Errorf("query: %w", &DimensionMismatchError{Expected: 3, Actual: 2})
	if !errors.Is(dim, ErrDimensionMismatch) {
		t.Error("DimensionMismatchError should match ErrDimensionMismatch")
	}
	var dm *DimensionMismatchError
	if !errors.As(dim, &dm) || dm.Expected != 3 || dm.Actual != 2 {
		t.Errorf("errors.As failed: %+v", dm)
	}

	st := &StorageError{Op: "write", Path: "/x", Err: io.ErrShortWrite}
	if !errors.Is(st, ErrStorage) || !errors.Is(st, io.ErrShortWrite) {
		t.Error("StorageError should match ErrStorage and its cause")
	}

	tr := &TransientError{Op: "fetch", Err: io.ErrUnexpectedEOF}
	if !errors.Is(tr, ErrTransient) || errors.Is(tr, ErrStorage) {
		t.Error("TransientError should match only ErrTransient")
	}

	pe := &ProviderError{Provider: "mock", Err: io.EOF}
	if !errors.Is(pe, ErrProviderUnavailable) {
		t.Error("ProviderError should match ErrProviderUnavailable")
	}
}
