package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	ckerrors "esmloader/internal/errors"
)

// WriteOptions selects the precompressed siblings written next to the manifest.
type WriteOptions struct {
	Gzip bool
	Zstd bool
}

// Write persists m as dir/name and, when requested, name.gz and name.zst.
// Each file is written to a temporary name first and renamed into place.
// It returns the paths written.
func Write(dir, name string, m Manifest, opts WriteOptions) ([]string, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, ckerrors.New(ckerrors.ManifestWriteFailed, "failed to encode manifest", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ckerrors.New(ckerrors.ManifestWriteFailed, "failed to create "+dir, err)
	}

	files := map[string][]byte{name: data}
	order := []string{name}
	if opts.Gzip {
		gz, err := gzipBytes(data)
		if err != nil {
			return nil, ckerrors.New(ckerrors.ManifestWriteFailed, "failed to gzip manifest", err)
		}
		files[name+".gz"] = gz
		order = append(order, name+".gz")
	}
	if opts.Zstd {
		zs, err := zstdBytes(data)
		if err != nil {
			return nil, ckerrors.New(ckerrors.ManifestWriteFailed, "failed to zstd manifest", err)
		}
		files[name+".zst"] = zs
		order = append(order, name+".zst")
	}

	written := make([]string, 0, len(order))
	for _, n := range order {
		p := filepath.Join(dir, n)
		if err := writeAtomic(p, files[n]); err != nil {
			return written, ckerrors.New(ckerrors.ManifestWriteFailed, "failed to write "+p, err)
		}
		written = append(written, p)
	}
	return written, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Read loads a manifest, decompressing .gz and .zst files.
func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	}
	return Unmarshal(data)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zstdBytes(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
