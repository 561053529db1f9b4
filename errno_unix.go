//go:build unix

package av

import "golang.org/x/sys/unix"

const (
	errnoENOENT = int32(unix.ENOENT)
	errnoENOMEM = int32(unix.ENOMEM)
	errnoEAGAIN = int32(unix.EAGAIN)
	errnoEISDIR = int32(unix.EISDIR)
	errnoEIO    = int32(unix.EIO)
)
