package cryptfs

import "golang.org/x/sys/unix"

// availableSpace reports the free bytes on the filesystem holding path.
func availableSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
