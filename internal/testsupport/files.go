package testsupport

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// hdf5Signature is the 8-byte superblock signature every HDF5 file starts with.
var hdf5Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// WriteMcool writes a file that passes the HDF5 signature check, padded to
// size bytes. A size below the signature length writes just the signature.
func WriteMcool(t testing.TB, path string, size int64) {
	t.Helper()

	data := make([]byte, max(size, int64(len(hdf5Signature))))
	copy(data, hdf5Signature)
	for i := len(hdf5Signature); i < len(data); i++ {
		data[i] = 0x42
	}
	writeBytes(t, path, data)
}

// WriteBedGz writes gzip-compressed BED lines.
func WriteBedGz(t testing.TB, path string, lines ...string) {
	t.Helper()

	var b strings.Builder
	zw := gzip.NewWriter(&b)
	for _, line := range lines {
		if _, err := zw.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("gzip %s: %v", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close %s: %v", path, err)
	}
	writeBytes(t, path, []byte(b.String()))
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
