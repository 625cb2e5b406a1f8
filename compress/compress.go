package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compressor comprime/descomprime el payload serializado antes de guardarlo
// en la tabla outbox. Los registros antiguos pueden convivir sin comprimir,
// así que el flag is_compressed del registro manda.
type Compressor interface {
	Compress(value []byte) ([]byte, error)
	Decompress(value []byte) ([]byte, error)
}

// Zlib implementa Compressor con el formato zlib (familia DEFLATE).
type Zlib struct{}

func NewZlib() Zlib { return Zlib{} }

func (Zlib) Compress(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (Zlib) Decompress(value []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}

// Noop deja el payload tal cual. Útil para tests y despliegues locales.
type Noop struct{}

func (Noop) Compress(value []byte) ([]byte, error)   { return value, nil }
func (Noop) Decompress(value []byte) ([]byte, error) { return value, nil }

// Verificación en tiempo de compilación.
var (
	_ Compressor = Zlib{}
	_ Compressor = Noop{}
)
