package validate

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrNotHDF5 means the file does not start with the HDF5 signature.
	ErrNotHDF5 = errors.New("not a valid HDF5 file")
	// ErrInvalidBED means the first BED line has fewer than three columns.
	ErrInvalidBED = errors.New("empty or invalid BED")
)

var hdf5Magic = []byte{0x89, 'H', 'D', 'F'}

const minBEDColumns = 3

// CheckMcool verifies the HDF5 signature of an mcool file. Content is not
// otherwise inspected.
func CheckMcool(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	if n < len(hdf5Magic) || !bytes.Equal(head[:len(hdf5Magic)], hdf5Magic) {
		return ErrNotHDF5
	}
	return nil
}

// CheckBedGz decompresses the first line of a BED archive and returns its
// tab-separated column count.
func CheckBedGz(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	line, err := bufio.NewReader(zr).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read first line: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, ErrInvalidBED
	}
	cols := len(strings.Split(line, "\t"))
	if cols < minBEDColumns {
		return cols, fmt.Errorf("%w: %d columns", ErrInvalidBED, cols)
	}
	return cols, nil
}
