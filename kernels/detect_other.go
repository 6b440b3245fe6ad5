//go:build !amd64 && !arm64
// +build !amd64,!arm64

package kernels

func hasVec8() bool { return false }
