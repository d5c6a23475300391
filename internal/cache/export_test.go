package cache

// SetRename swaps the rename step of Write so tests can interrupt it.
func SetRename(b *FileBackend, fn func(oldpath, newpath string) error) {
	b.rename = fn
}
