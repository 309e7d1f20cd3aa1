package crypto

import (
	"bytes"
	"compress/zlib"
	"io"
)

// flateWriter adapts compress/zlib's io.Writer-shaped API to the envelope's
// push-a-block-get-bytes-back shape. zlib framing is whole-stream (it
// carries a single Adler-32 trailer), so blocks are accumulated and the
// actual deflate pass happens once, at Flush; this differs from the
// encryption stage above, which is genuinely block-at-a-time.
type flateWriter struct {
	plain bytes.Buffer
}

func newFlateWriter() (*flateWriter, error) {
	return &flateWriter{}, nil
}

// Compress buffers block; the compressed bytes are not available until
// Flush.
func (w *flateWriter) Compress(block []byte) ([]byte, error) {
	w.plain.Write(block)
	return nil, nil
}

// Flush runs the deflate pass over everything buffered and returns the
// complete zlib stream.
func (w *flateWriter) Flush() ([]byte, error) {
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(w.plain.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// flateReader is the inverse of flateWriter: it buffers compressed blocks
// and runs the inflate pass once, at Close.
type flateReader struct {
	compressed bytes.Buffer
}

func newFlateReader() *flateReader {
	return &flateReader{}
}

// Decompress buffers block; the plaintext is not available until Close.
func (r *flateReader) Decompress(block []byte) ([]byte, error) {
	r.compressed.Write(block)
	return nil, nil
}

// Close runs the inflate pass over everything buffered and returns the
// plaintext.
func (r *flateReader) Close() ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(r.compressed.Bytes()))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}
