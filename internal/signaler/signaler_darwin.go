//go:build darwin

package signaler

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking, close-on-exec self-pipe.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func writeWake(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if err == unix.EAGAIN {
		// pipe full, already readable
		return nil
	}
	return err
}

// drainWake reads until EAGAIN, reporting whether anything was read.
func drainWake(fd int) bool {
	var (
		buf  [64]byte
		read bool
	)
	for {
		n, err := unix.Read(fd, buf[:])
		if err != nil || n == 0 {
			return read
		}
		read = true
	}
}

func closeWakeFd(r, w int) error {
	err := unix.Close(r)
	if err2 := unix.Close(w); err == nil {
		err = err2
	}
	return err
}
