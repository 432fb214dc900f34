//go:build linux

package iomgr

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"

	c "github.com/chenwuchao/orientdb/internal"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func tempfile(t *testing.T) string {
	dir := t.TempDir()
	return filepath.Join(dir, fmt.Sprintf("iotest%016x.dat", rand.Uint64()))
}

func Test_Env_O_DIRECT_And_Mmap_Align(t *testing.T) {
	fd, err := OpenDirect(tempfile(t))
	if err != nil {
		t.Skipf("O_DIRECT open not supported: %v (likely tmpfs or virtualized FS)", err)
	}
	defer CloseFd(fd)

	buf, err := AllocSlab(int(ALIGN))
	require.NoError(t, err)
	defer DeallocSlab(buf)

	n, err := unix.Pwrite(fd, buf, 0)
	require.NoError(t, err, "O_DIRECT write failed even with aligned memory")
	require.Equal(t, int(ALIGN), n)
}

func Test_Iomgr_Write_Read_Roundtrip(t *testing.T) {
	slab, err := AllocSlab(c.PAGE_SIZE * 2)
	require.NoError(t, err)
	defer DeallocSlab(slab)

	fd, err := OpenDirect(tempfile(t))
	if err != nil {
		t.Skipf("O_DIRECT open not supported: %v", err)
	}
	defer CloseFd(fd)

	m, err := CreateIoMgr()
	require.NoError(t, err)
	defer m.Close()

	for i := range slab[:c.PAGE_SIZE] {
		slab[i] = byte(i)
	}

	op := Op{Fd: fd, Ch: make(chan struct{}, 1), Sync: true}
	op.PrepareSlice(OpWrite, slab[:c.PAGE_SIZE], 0)
	m.Submit(&op)
	<-op.Ch
	require.GreaterOrEqual(t, op.Res, int32(0))

	op.Sync = false
	op.PrepareSlice(OpRead, slab[c.PAGE_SIZE:], 0)
	m.Submit(&op)
	<-op.Ch
	require.GreaterOrEqual(t, op.Res, int32(0))
	require.Equal(t, c.PAGE_SIZE, int(op.Res))

	require.True(t, slices.Equal(slab[:c.PAGE_SIZE], slab[c.PAGE_SIZE:]))
}

func Test_Iomgr_Allocate(t *testing.T) {
	fd, err := OpenDirect(tempfile(t))
	if err != nil {
		t.Skipf("O_DIRECT open not supported: %v", err)
	}
	defer CloseFd(fd)

	m, err := CreateIoMgr()
	require.NoError(t, err)
	defer m.Close()

	op := Op{Fd: fd, Ch: make(chan struct{}, 1)}
	op.PrepareRange(OpAllocate, 0, 1<<20)
	m.Submit(&op)
	<-op.Ch
	require.GreaterOrEqual(t, op.Res, int32(0))

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	require.Equal(t, int64(1<<20), st.Size)
}
