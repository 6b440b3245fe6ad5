package kernels

import (
	"os"
)

// EnvKernel names the environment variable that overrides kernel detection.
// Accepted values are the kernel names, "scalar" and "vec8".
const EnvKernel = "ONLINELSTM_KERNEL"

// Detect picks the kernel for this process. An override in EnvKernel wins when
// it names a known kernel; otherwise Vec8 is used when the CPU has the vector
// units it was written for.
func Detect() Kernel {
	if k, ok := fromEnv(); ok {
		return k
	}
	if hasVec8() {
		return Vec8
	}
	return Scalar
}

func fromEnv() (Kernel, bool) {
	raw := os.Getenv(EnvKernel)
	if raw == "" {
		return nil, false
	}
	k, err := ByName(raw)
	if err != nil {
		return nil, false
	}
	return k, true
}
