package align

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/readalong/readalong/tts"
)

// DiskCache persists alignment results as one zstd-compressed JSON
// record per (documentID, sentence key, speed). A missing record is
// absence, not an error; a record that cannot be decoded is a read
// error.
type DiskCache struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &DiskCache{dir: dir, encoder: enc, decoder: dec}, nil
}

// Save writes the alignment record for (documentID, key, speed).
func (c *DiskCache) Save(documentID string, key tts.SentenceKey, speed float64, result *tts.AlignmentResult) error {
	if result == nil {
		return fmt.Errorf("%w: nil result", tts.ErrCacheWrite)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
	}

	docDir := filepath.Join(c.dir, docKey(documentID))
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
	}
	path := recordPath(docDir, key, speed)
	if err := os.WriteFile(path, c.encoder.EncodeAll(payload, nil), 0o644); err != nil {
		return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
	}
	log.Debug("aligncache: saved", "doc", documentID, "key", key, "speed", speed)
	return nil
}

// Load returns the stored record, ok=false when no record exists, or a
// read error when the record exists but cannot be decoded.
func (c *DiskCache) Load(documentID string, key tts.SentenceKey, speed float64) (*tts.AlignmentResult, bool, error) {
	path := recordPath(filepath.Join(c.dir, docKey(documentID)), key, speed)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", tts.ErrCacheRead, err)
	}

	payload, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", tts.ErrCacheRead, err)
	}
	var result tts.AlignmentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("%w: %v", tts.ErrCacheRead, err)
	}
	return &result, true, nil
}

// Clear removes every record for one document.
func (c *DiskCache) Clear(documentID string) error {
	if err := os.RemoveAll(filepath.Join(c.dir, docKey(documentID))); err != nil {
		return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
	}
	return nil
}

// ClearAll removes every record for every document.
func (c *DiskCache) ClearAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("%w: %v", tts.ErrCacheWrite, err)
		}
	}
	return nil
}

func docKey(documentID string) string {
	sum := sha256.Sum256([]byte(documentID))
	return hex.EncodeToString(sum[:8])
}

func recordPath(docDir string, key tts.SentenceKey, speed float64) string {
	return filepath.Join(docDir, fmt.Sprintf("p%05d_s%03d_r%.2f.json.zst", key.Paragraph, key.Sentence, speed))
}
