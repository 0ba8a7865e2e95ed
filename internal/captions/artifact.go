package captions

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// WriteArtifact persists a transcript as JSON. Paths ending in ".zst" are
// zstd-compressed. The file is written to a temp name and renamed into place.
func WriteArtifact(path string, t Transcript) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create transcript artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = enc
	}

	if err := json.NewEncoder(w).Encode(t); err != nil {
		tmp.Close()
		return fmt.Errorf("encode transcript: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadArtifact loads a transcript written by WriteArtifact or by an external
// transcription job. Compression is detected from the zstd frame magic.
func ReadArtifact(path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("open transcript artifact: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return Transcript{}, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var t Transcript
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript artifact %s: %w", filepath.Base(path), err)
	}
	return t, nil
}
