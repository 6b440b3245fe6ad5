//go:build arm64
// +build arm64

package kernels

import "golang.org/x/sys/cpu"

func hasVec8() bool { return cpu.ARM64.HasASIMD }
