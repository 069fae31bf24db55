package storage

// simd.go holds tight batch loops over the typed buffers. The 4-way unrolling
// gives the compiler room to auto-vectorize on amd64/arm64. These paths only
// run when both inputs are fully valid, so they never look at bitmaps.

func vectorAddInt64(dst, a, b []int64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] + b[i]
		dst[i+1] = a[i+1] + b[i+1]
		dst[i+2] = a[i+2] + b[i+2]
		dst[i+3] = a[i+3] + b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

func vectorSubInt64(dst, a, b []int64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] - b[i]
		dst[i+1] = a[i+1] - b[i+1]
		dst[i+2] = a[i+2] - b[i+2]
		dst[i+3] = a[i+3] - b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] - b[i]
	}
}

func vectorMulInt64(dst, a, b []int64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] * b[i]
		dst[i+1] = a[i+1] * b[i+1]
		dst[i+2] = a[i+2] * b[i+2]
		dst[i+3] = a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] * b[i]
	}
}

func vectorAddFloat64(dst, a, b []float64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] + b[i]
		dst[i+1] = a[i+1] + b[i+1]
		dst[i+2] = a[i+2] + b[i+2]
		dst[i+3] = a[i+3] + b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] + b[i]
	}
}

func vectorSubFloat64(dst, a, b []float64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] - b[i]
		dst[i+1] = a[i+1] - b[i+1]
		dst[i+2] = a[i+2] - b[i+2]
		dst[i+3] = a[i+3] - b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] - b[i]
	}
}

func vectorMulFloat64(dst, a, b []float64) {
	n := len(dst)
	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = a[i] * b[i]
		dst[i+1] = a[i+1] * b[i+1]
		dst[i+2] = a[i+2] * b[i+2]
		dst[i+3] = a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		dst[i] = a[i] * b[i]
	}
}
