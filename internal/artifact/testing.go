package artifact

import (
	"os"
	"path/filepath"

	"github.com/biogo/hts/bgzf"
)

// WriteBGZF writes body as a complete BGZF file (with EOF block) at path. It
// backs test fixtures and the dry-run tool set.
func WriteBGZF(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bgzf.NewWriter(f, 1)
	if _, err := w.Write(body); err != nil {
		w.Close()
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
