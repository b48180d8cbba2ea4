package ufo

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeCopiesPriorThenAppended(t *testing.T) {
	t.Parallel()

	var prior, extra List
	prior.Append(0x100, 1)
	prior.Append(0x104, 2)
	extra.Append(0x200, 7)

	merged := Merge(prior, extra)
	want := []UFO{{0x100, 1}, {0x104, 2}, {0x200, 7}}
	if diff := cmp.Diff(want, merged.Pairs()); diff != "" {
		t.Fatalf("merged pairs mismatch (-want +got):\n%s", diff)
	}

	// The merged list owns its storage.
	merged.Values[0] = 99
	if prior.Values[0] != 1 {
		t.Fatalf("merge aliased prior storage")
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	t.Parallel()

	var a List
	var b List
	b.Append(0x10, 3)

	if got := Merge(a, b).Len(); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	if got := Merge(List{}, List{}).Len(); got != 0 {
		t.Fatalf("expected empty merge, got %d", got)
	}
}

func TestBinaryEncoding(t *testing.T) {
	t.Parallel()

	var l List
	l.Append(0x08000000, 0xffffffff)
	l.Append(0x08000004, 0)

	data, err := l.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != 4+16 {
		t.Fatalf("unexpected encoded size %d", len(data))
	}

	var back List
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(l.Pairs(), back.Pairs()); diff != "" {
		t.Fatalf("decoded pairs mismatch (-want +got):\n%s", diff)
	}

	if err := back.UnmarshalBinary(data[:7]); !errors.Is(err, ErrCorruptList) {
		t.Fatalf("expected ErrCorruptList for truncated data, got %v", err)
	}
}

func TestMarshalRejectsMismatchedArrays(t *testing.T) {
	t.Parallel()

	l := List{Addrs: []Addr{1, 2}, Values: []uint32{1}}
	if _, err := l.MarshalBinary(); !errors.Is(err, ErrCorruptList) {
		t.Fatalf("expected ErrCorruptList, got %v", err)
	}
}
