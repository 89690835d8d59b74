package debug_test

import (
	"testing"

	"github.com/zarrstream/zarrstream/internal/debug"
)

func BenchmarkLogStatic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("Static string")
	}
}

func BenchmarkLogFormatted(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("wrote %d bytes to chunk %d", 65536, i)
	}
}
