package snapshot

import (
	"io/fs"
	"os"
	"syscall"

	"honeymesh/pkg/fstree"
)

// classify maps stat mode bits to an entry type. Classification comes
// only from the mode of the stat result; anything that matches no
// known type bit is treated as a regular file (best-effort fallback,
// the walk never fails on it).
func classify(mode fs.FileMode) fstree.EntryType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return fstree.TypeLink
	case mode.IsDir():
		return fstree.TypeDir
	case mode&fs.ModeDevice != 0 && mode&fs.ModeCharDevice != 0:
		return fstree.TypeChar
	case mode&fs.ModeDevice != 0:
		return fstree.TypeBlock
	case mode&fs.ModeSocket != 0:
		return fstree.TypeSocket
	case mode&fs.ModeNamedPipe != 0:
		return fstree.TypeFIFO
	default:
		return fstree.TypeFile
	}
}

// rawMode returns the full type+permission bits as the kernel
// reported them, which is what the emulator expects in the artifact.
func rawMode(info os.FileInfo) uint32 {
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint32(sys.Mode)
	}
	return uint32(info.Mode().Perm())
}

// owner returns the entry's UID and GID from the stat result.
func owner(info os.FileInfo) (uid, gid int) {
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(sys.Uid), int(sys.Gid)
	}
	return 0, 0
}
