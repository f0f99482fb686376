package globalindex

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/DeusData/crate-graph-mcp/internal/discover"
)

// cacheVersion invalidates stored indexes when the on-disk layout changes.
const cacheVersion = 2

type cacheEnvelope struct {
	Version int
	Key     uint64
	Exports map[string]string
	Simple  map[string][]string
	Crates  map[string]bool
}

// CacheKey fingerprints the workspace by every manifest's path and mtime. Any
// added, removed, or edited manifest changes the key.
func CacheKey(ws *discover.Workspace) uint64 {
	h := xxh3.New()
	for _, crate := range ws.Crates {
		h.Write([]byte(crate.ManifestPath))
		info, err := os.Stat(crate.ManifestPath)
		if err == nil {
			h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		}
	}
	return h.Sum64()
}

// LoadCached reads a stored index and returns it only when its key matches.
func LoadCached(path string, key uint64) (*Index, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, false
	}
	defer zr.Close()

	var env cacheEnvelope
	if err := gob.NewDecoder(zr).Decode(&env); err != nil {
		return nil, false
	}
	if env.Version != cacheVersion || env.Key != key {
		return nil, false
	}
	return &Index{Exports: env.Exports, Simple: env.Simple, Crates: env.Crates}, true
}

// Save writes the index atomically next to its final path.
func (idx *Index) Save(path string, key uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create cache temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	env := cacheEnvelope{
		Version: cacheVersion,
		Key:     key,
		Exports: idx.Exports,
		Simple:  idx.Simple,
		Crates:  idx.Crates,
	}
	if err := gob.NewEncoder(zw).Encode(&env); err != nil {
		tmp.Close()
		return fmt.Errorf("encode index cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index cache: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
