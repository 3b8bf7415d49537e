package bundle

import (
	"os"
	"syscall"
)

// sameDevice reports whether a and b reside on the same filesystem, used to
// decide whether rootfs materialization can rely on hardlinks.
func sameDevice(a, b os.FileInfo) bool {
	as, aok := a.Sys().(*syscall.Stat_t)
	bs, bok := b.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return false
	}
	return as.Dev == bs.Dev
}
