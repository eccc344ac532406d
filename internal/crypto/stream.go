package crypto

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	StreamVersion    = 1
	SaltSize         = 16
	NoncePrefixSize  = chacha20poly1305.NonceSizeX - 9 // prefix || counter(8) || final flag(1)
	DefaultChunkSize = 64 * 1024
	MinChunkSize     = 1024
	MaxChunkSize     = 4 << 20

	// Bounds for headers read from disk: four times the defaults. Key
	// derivation runs before the first chunk is authenticated.
	maxArgonTime    = 12
	maxArgonMemory  = 256 * 1024 // KiB
	maxArgonThreads = 16

	magicSize       = 8
	headerSize      = magicSize + 4 + 4 + 1 + 4 + SaltSize + NoncePrefixSize
	chunkHeaderSize = 1 + 4

	flagMore  = 0
	flagFinal = 1
)

var streamMagic = [magicSize]byte{'L', 'O', 'C', 'K', 'B', 'O', 'X', StreamVersion}

var (
	ErrNotContainer       = errors.New("not a lockbox container")
	ErrUnsupportedVersion = errors.New("unsupported container version")
	ErrTruncated          = errors.New("truncated container")
	ErrTrailingData       = errors.New("trailing data after final chunk")
	ErrInvalidParams      = errors.New("invalid container parameters")
	errWriterClosed       = errors.New("stream writer closed")
)

// Params are the Argon2id and chunking parameters recorded in a container header.
type Params struct {
	Time      uint32 // Argon2id passes
	Memory    uint32 // Argon2id memory in KiB
	Threads   uint8  // Argon2id parallelism
	ChunkSize uint32 // plaintext bytes per chunk
}

// DefaultParams returns the parameters used for new containers.
func DefaultParams() Params {
	return Params{
		Time:      3,
		Memory:    64 * 1024,
		Threads:   4,
		ChunkSize: DefaultChunkSize,
	}
}

// Validate checks the parameters against the accepted bounds. Headers read
// from disk are validated before any key derivation happens.
func (p Params) Validate() error {
	switch {
	case p.Time < 1 || p.Time > maxArgonTime:
		return fmt.Errorf("%w: time %d", ErrInvalidParams, p.Time)
	case p.Threads < 1 || p.Threads > maxArgonThreads:
		return fmt.Errorf("%w: threads %d", ErrInvalidParams, p.Threads)
	case p.Memory < 8*uint32(p.Threads) || p.Memory > maxArgonMemory:
		return fmt.Errorf("%w: memory %d KiB", ErrInvalidParams, p.Memory)
	case p.ChunkSize < MinChunkSize || p.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d", ErrInvalidParams, p.ChunkSize)
	}
	return nil
}

// DeriveKey derives a container key from a passphrase using Argon2id.
func DeriveKey(passphrase, salt []byte, p Params) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, KeySize)
}

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= magicSize && bytes.Equal(data[:magicSize-1], streamMagic[:magicSize-1])
}

type streamHeader struct {
	params Params
	salt   []byte
	prefix []byte
}

func (h *streamHeader) marshal() []byte {
	b := make([]byte, 0, headerSize)
	b = append(b, streamMagic[:]...)
	b = binary.BigEndian.AppendUint32(b, h.params.Time)
	b = binary.BigEndian.AppendUint32(b, h.params.Memory)
	b = append(b, h.params.Threads)
	b = binary.BigEndian.AppendUint32(b, h.params.ChunkSize)
	b = append(b, h.salt...)
	b = append(b, h.prefix...)
	return b
}

func parseStreamHeader(b []byte) (*streamHeader, error) {
	if len(b) != headerSize || !IsContainer(b) {
		return nil, ErrNotContainer
	}
	if b[magicSize-1] != StreamVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[magicSize-1])
	}

	off := magicSize
	h := &streamHeader{}
	h.params.Time = binary.BigEndian.Uint32(b[off:])
	off += 4
	h.params.Memory = binary.BigEndian.Uint32(b[off:])
	off += 4
	h.params.Threads = b[off]
	off++
	h.params.ChunkSize = binary.BigEndian.Uint32(b[off:])
	off += 4
	h.salt = append([]byte(nil), b[off:off+SaltSize]...)
	off += SaltSize
	h.prefix = append([]byte(nil), b[off:off+NoncePrefixSize]...)

	if err := h.params.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func chunkNonce(prefix []byte, counter uint64, final bool) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, prefix)
	binary.BigEndian.PutUint64(nonce[NoncePrefixSize:], counter)
	if final {
		nonce[len(nonce)-1] = flagFinal
	}
	return nonce
}

func newAEAD(passphrase []byte, h *streamHeader) (cipher.AEAD, error) {
	key := DeriveKey(passphrase, h.salt, h.params)
	defer ClearBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}

// StreamWriter seals a plaintext stream into a container. Close must be
// called to emit the final chunk; a stream without it fails to open.
type StreamWriter struct {
	w       io.Writer
	aead    cipher.AEAD
	aad     []byte
	prefix  []byte
	counter uint64
	buf     []byte
	chunk   int
	closed  bool
	err     error
}

// NewStreamWriter writes a container header to w and returns a writer that
// encrypts everything written to it.
func NewStreamWriter(w io.Writer, passphrase []byte, p Params) (*StreamWriter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, err
	}
	prefix, err := GenerateRandom(NoncePrefixSize)
	if err != nil {
		return nil, err
	}

	h := &streamHeader{params: p, salt: salt, prefix: prefix}
	aead, err := newAEAD(passphrase, h)
	if err != nil {
		return nil, err
	}

	hdr := h.marshal()
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &StreamWriter{
		w:      w,
		aead:   aead,
		aad:    hdr,
		prefix: prefix,
		buf:    make([]byte, 0, p.ChunkSize),
		chunk:  int(p.ChunkSize),
	}, nil
}

// Write buffers p and emits every chunk that is known not to be the last.
func (sw *StreamWriter) Write(p []byte) (int, error) {
	if sw.closed {
		return 0, errWriterClosed
	}
	if sw.err != nil {
		return 0, sw.err
	}

	n := len(p)
	for {
		space := sw.chunk - len(sw.buf)
		if len(p) <= space {
			sw.buf = append(sw.buf, p...)
			return n, nil
		}
		sw.buf = append(sw.buf, p[:space]...)
		p = p[space:]
		if err := sw.flush(false); err != nil {
			sw.err = err
			return n - len(p), err
		}
	}
}

// Close emits the final chunk. It does not close the underlying writer.
func (sw *StreamWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	if sw.err != nil {
		return sw.err
	}
	return sw.flush(true)
}

func (sw *StreamWriter) flush(final bool) error {
	ct := sw.aead.Seal(nil, chunkNonce(sw.prefix, sw.counter, final), sw.buf, sw.aad)

	var hdr [chunkHeaderSize]byte
	if final {
		hdr[0] = flagFinal
	}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(ct)))

	if _, err := sw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write chunk header: %w", err)
	}
	if _, err := sw.w.Write(ct); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	ClearBytes(sw.buf)
	sw.buf = sw.buf[:0]
	sw.counter++
	return nil
}

// StreamReader opens a container and yields its plaintext.
type StreamReader struct {
	r       io.Reader
	aead    cipher.AEAD
	aad     []byte
	prefix  []byte
	counter uint64
	chunk   int
	pending []byte
	done    bool
	err     error
}

// NewStreamReader parses the container header from r and authenticates the
// first chunk, so a wrong passphrase is reported here rather than on Read.
func NewStreamReader(r io.Reader, passphrase []byte) (*StreamReader, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotContainer
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h, err := parseStreamHeader(hdr)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(passphrase, h)
	if err != nil {
		return nil, err
	}

	sr := &StreamReader{
		r:      r,
		aead:   aead,
		aad:    hdr,
		prefix: h.prefix,
		chunk:  int(h.params.ChunkSize),
	}
	if err := sr.next(); err != nil {
		return nil, err
	}
	return sr, nil
}

func (sr *StreamReader) Read(p []byte) (int, error) {
	for len(sr.pending) == 0 {
		if sr.err != nil {
			return 0, sr.err
		}
		if sr.done {
			sr.err = sr.expectEOF()
			continue
		}
		if err := sr.next(); err != nil {
			sr.err = err
		}
	}

	n := copy(p, sr.pending)
	sr.pending = sr.pending[n:]
	return n, nil
}

func (sr *StreamReader) next() error {
	var hdr [chunkHeaderSize]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return fmt.Errorf("failed to read chunk header: %w", err)
	}

	flag := hdr[0]
	if flag != flagMore && flag != flagFinal {
		return ErrInvalidCiphertext
	}
	length := binary.BigEndian.Uint32(hdr[1:])
	if length < chacha20poly1305.Overhead || length > uint32(sr.chunk+chacha20poly1305.Overhead) {
		return ErrInvalidCiphertext
	}

	ct := make([]byte, length)
	if _, err := io.ReadFull(sr.r, ct); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	final := flag == flagFinal
	plain, err := sr.aead.Open(ct[:0], chunkNonce(sr.prefix, sr.counter, final), ct, sr.aad)
	if err != nil {
		return ErrAuthFailed
	}
	if !final && len(plain) != sr.chunk {
		return ErrInvalidCiphertext
	}

	sr.pending = plain
	sr.counter++
	sr.done = final
	return nil
}

func (sr *StreamReader) expectEOF() error {
	var b [1]byte
	n, err := io.ReadFull(sr.r, b[:])
	if n > 0 {
		return ErrTrailingData
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("failed to read container: %w", err)
}

// CheckPassphrase authenticates the header and first chunk read from r
// under passphrase. The rest of the container is not read.
func CheckPassphrase(passphrase []byte, r io.Reader) error {
	sr, err := NewStreamReader(r, passphrase)
	if err != nil {
		return err
	}
	ClearBytes(sr.pending)
	return nil
}

// Seal encrypts plaintext into an in-memory container.
func Seal(passphrase, plaintext []byte, p Params) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(headerSize + len(plaintext) + (len(plaintext)/int(max(p.ChunkSize, 1))+1)*(chunkHeaderSize+chacha20poly1305.Overhead))

	sw, err := NewStreamWriter(&out, passphrase, p)
	if err != nil {
		return nil, err
	}
	if _, err := sw.Write(plaintext); err != nil {
		return nil, err
	}
	if err := sw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Open decrypts an in-memory container.
func Open(passphrase, container []byte) ([]byte, error) {
	sr, err := NewStreamReader(bytes.NewReader(container), passphrase)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(sr)
	if err != nil {
		ClearBytes(plaintext)
		return nil, err
	}
	return plaintext, nil
}
