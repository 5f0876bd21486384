package daemon

import (
	"golang.org/x/sys/unix"
)

// DiskUsage reports free space on the filesystem holding Path.
type DiskUsage struct {
	Path       string
	TotalBytes uint64
	FreeBytes  uint64
	Err        string
}

func diskUsage(path string) DiskUsage {
	usage := DiskUsage{Path: path}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		usage.Err = err.Error()
		return usage
	}
	bsize := uint64(st.Bsize)
	usage.TotalBytes = st.Blocks * bsize
	usage.FreeBytes = st.Bavail * bsize
	return usage
}
