package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/coder/hnsw"
)

const snapshotVersion = 1

// snapshot is the on-disk form of a catalog. Nodes are keyed by phrase; the
// hash is recomputed on load so a change to phrase normalisation cannot
// leave orphaned keys behind.
type snapshot struct {
	Version int            `json:"version"`
	Model   string         `json:"model"`
	Dims    int            `json:"dims"`
	Phrases []snapshotNode `json:"phrases"`
}

type snapshotNode struct {
	Phrase string    `json:"phrase"`
	Vector []float32 `json:"vector"`
}

// EmbeddingModel returns the embedder's model name, or "" when disabled.
func (c *Catalog) EmbeddingModel() string {
	if !c.Enabled() {
		return ""
	}
	return c.embedder.Model()
}

// SaveCache writes every indexed phrase and its vector to path, replacing
// the file atomically.
func (c *Catalog) SaveCache(path string) error {
	snap := snapshot{Version: snapshotVersion, Model: c.EmbeddingModel()}

	c.mu.RLock()
	for hash, phrase := range c.phrases {
		vec, ok := c.graph.Lookup(hash)
		if !ok {
			continue
		}
		snap.Phrases = append(snap.Phrases, snapshotNode{Phrase: phrase, Vector: vec})
		snap.Dims = len(vec)
	}
	c.mu.RUnlock()
	sort.Slice(snap.Phrases, func(i, j int) bool { return snap.Phrases[i].Phrase < snap.Phrases[j].Phrase })

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".vocabulary-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write vocabulary cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadCache adds the phrases saved at path to the catalog. A cache written
// for another embedding model or format version is ignored.
func (c *Catalog) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode vocabulary cache: %w", err)
	}
	if snap.Version != snapshotVersion || snap.Model != c.EmbeddingModel() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var nodes []hnsw.Node[string]
	for _, n := range snap.Phrases {
		if len(n.Vector) == 0 || len(n.Vector) != snap.Dims {
			continue
		}
		hash := hashPhrase(n.Phrase)
		if _, ok := c.phrases[hash]; ok {
			continue
		}
		c.phrases[hash] = normalizePhrase(n.Phrase)
		nodes = append(nodes, hnsw.MakeNode(hash, n.Vector))
	}
	if len(nodes) > 0 {
		c.graph.Add(nodes...)
	}
	return nil
}
