//go:build amd64
// +build amd64

package kernels

import "golang.org/x/sys/cpu"

func hasVec8() bool { return cpu.X86.HasAVX2 && cpu.X86.HasFMA }
