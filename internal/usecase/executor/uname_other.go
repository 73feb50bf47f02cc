//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package executor

func kernelRelease() string { return "unknown" }
