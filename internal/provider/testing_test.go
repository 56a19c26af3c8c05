package provider

import "github.com/opengoat/opengoat/internal/paths"

func newTestFilesystem() paths.Filesystem {
	return paths.NewMemoryFilesystem()
}

func newTestLayout() *paths.Layout {
	return paths.New("/home/.opengoat")
}
