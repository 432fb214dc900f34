package page

import (
	"bytes"
	"errors"
	"testing"

	c "github.com/chenwuchao/orientdb/internal"
)

func testBuffer(t *testing.T) *Buffer {
	t.Helper()
	b, err := NewBuffer(make([]byte, c.PAGE_SIZE))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func Test_Buffer_WrongSize(t *testing.T) {
	if _, err := NewBuffer(make([]byte, 100)); err == nil {
		t.Error("accepted a non-PAGE_SIZE buffer")
	}
}

func Test_Buffer_IntRoundtrip(t *testing.T) {
	b := testBuffer(t)

	if err := b.PutU32(100, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	v32, err := b.U32(100)
	if err != nil || v32 != 0xDEADBEEF {
		t.Errorf("u32 roundtrip got %x err %v", v32, err)
	}

	if err := b.PutU64(200, 0x0123456789ABCDEF); err != nil {
		t.Fatal(err)
	}
	v64, err := b.U64(200)
	if err != nil || v64 != 0x0123456789ABCDEF {
		t.Errorf("u64 roundtrip got %x err %v", v64, err)
	}
}

func Test_Buffer_OutOfBounds(t *testing.T) {
	b := testBuffer(t)

	if _, err := b.U32(c.PAGE_SIZE - 2); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("u32 past end: %v", err)
	}
	if err := b.PutU64(c.PAGE_SIZE - 4, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("u64 past end: %v", err)
	}
	if err := b.PutBytes(-1, []byte{1}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("negative offset: %v", err)
	}
	if _, err := b.Bytes(c.PAGE_SIZE, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("read past end: %v", err)
	}
	if err := b.Move(0, c.PAGE_SIZE-4, 8); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("move past end: %v", err)
	}
}

func Test_Buffer_MoveOverlap(t *testing.T) {
	b := testBuffer(t)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := b.PutBytes(16, src); err != nil {
		t.Fatal(err)
	}

	// forward overlap: dst > src
	if err := b.Move(16, 20, 8); err != nil {
		t.Fatal(err)
	}
	got, _ := b.Bytes(20, 8)
	if !bytes.Equal(got, src) {
		t.Errorf("forward overlap move got %v", got)
	}

	// backward overlap: dst < src
	if err := b.Move(20, 18, 8); err != nil {
		t.Fatal(err)
	}
	got, _ = b.Bytes(18, 8)
	if !bytes.Equal(got, src) {
		t.Errorf("backward overlap move got %v", got)
	}
}

func Test_Buffer_SliceAliases(t *testing.T) {
	b := testBuffer(t)

	if err := b.PutBytes(32, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	s, err := b.Slice(32, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.PutBytes(32, []byte("xyz")); err != nil {
		t.Fatal(err)
	}
	if string(s) != "xyz" {
		t.Errorf("slice should alias the buffer, got %q", s)
	}
}

func Test_Version_Order(t *testing.T) {
	if Version(1).Compare(Version(2)) != -1 || Version(2).Compare(Version(1)) != 1 || Version(3).Compare(Version(3)) != 0 {
		t.Error("ordering broken")
	}
	if Version(7).Next() != 8 {
		t.Error("next broken")
	}
	if VersionFrom(Version(0x1234).Bytes()) != 0x1234 {
		t.Error("encode roundtrip broken")
	}
}
