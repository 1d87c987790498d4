//go:build linux

package signaler

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd, returned as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}

func writeWake(fd int) error {
	// native endianness, eventfd expects a host-order uint64
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(fd, buf)
	if err == unix.EAGAIN {
		// counter saturated, the fd is readable regardless
		return nil
	}
	return err
}

// drainWake reads until EAGAIN, reporting whether anything was read.
func drainWake(fd int) bool {
	var (
		buf  [8]byte
		read bool
	)
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return read
		}
		read = true
	}
}

func closeWakeFd(r, w int) error {
	return unix.Close(r)
}
