package fstree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding. The same tree always
// produces identical artifact bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored so newer
// producers remain readable by older consumers.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fstree: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("fstree: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode writes the tree rooted at root to w as a single CBOR item.
func Encode(w io.Writer, root *Entry) error {
	if err := encMode.NewEncoder(w).Encode(root); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Decode reads a single encoded tree from r.
func Decode(r io.Reader) (*Entry, error) {
	var root Entry
	if err := decMode.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &root, nil
}

// WriteFile encodes the tree to path. The artifact is written to a
// temporary file in the same directory and renamed into place, so a
// failed encode never leaves a truncated artifact at path.
func WriteFile(path string, root *Entry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fstree-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := Encode(tmp, root); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// ReadFile decodes the tree stored at path.
func ReadFile(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
