package filecipher

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/fault"
)

// SizeClass buckets a file by size for display.
type SizeClass int

const (
	SizeEmpty SizeClass = iota
	SizeSmall
	SizeMedium
	SizeLarge
)

const (
	smallLimit  = 1 << 20   // 1 MiB
	mediumLimit = 100 << 20 // 100 MiB
)

func (c SizeClass) String() string {
	switch c {
	case SizeEmpty:
		return "empty"
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	default:
		return "large"
	}
}

// ClassifySize returns the SizeClass for size bytes.
func ClassifySize(size int64) SizeClass {
	switch {
	case size <= 0:
		return SizeEmpty
	case size < smallLimit:
		return SizeSmall
	case size < mediumLimit:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// FileDetails is read-only metadata about a selected file. It is derived on
// demand and never persisted.
type FileDetails struct {
	Name      string
	Path      string
	Extension string
	Size      int64
	SizeClass SizeClass
	HumanSize string
	Sealed    bool
}

func newDetails(path string, size int64, sealed bool) FileDetails {
	return FileDetails{
		Name:      filepath.Base(path),
		Path:      path,
		Extension: strings.TrimPrefix(filepath.Ext(path), "."),
		Size:      size,
		SizeClass: ClassifySize(size),
		HumanSize: humanize.IBytes(uint64(max(size, 0))),
		Sealed:    sealed,
	}
}

// Inspect derives FileDetails for path.
func Inspect(path string) (FileDetails, error) {
	abs, err := resolve(path)
	if err != nil {
		return FileDetails{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return FileDetails{}, fault.IO("stat", abs, err)
	}
	if info.IsDir() {
		return FileDetails{}, fault.IO("inspect", abs, ErrIsDirectory)
	}

	sealed, err := IsSealed(abs)
	if err != nil {
		return FileDetails{}, err
	}
	return newDetails(abs, info.Size(), sealed), nil
}

// IsSealed reports whether the file at path starts with a container header.
func IsSealed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fault.IO("open", path, err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, fault.IO("read", path, err)
	}
	return crypto.IsContainer(head[:n]), nil
}

// CheckPassphrase reports whether passphrase opens the container at path.
// Only the header and first chunk are read. A wrong passphrase wraps
// crypto.ErrAuthFailed.
func CheckPassphrase(passphrase []byte, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fault.IO("open", path, err)
	}
	defer f.Close()

	if err := crypto.CheckPassphrase(passphrase, bufio.NewReader(f)); err != nil {
		return fault.Cipher("open container "+path, err)
	}
	return nil
}
