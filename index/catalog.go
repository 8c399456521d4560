// Package index keeps an embedding index of style phrases and finds the ones
// closest to what the user is typing.
package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

const indexBatchSize = 32

// Catalog indexes vocabulary phrases in an in-memory HNSW graph.
type Catalog struct {
	embedder Vectorizer

	mu      sync.RWMutex
	graph   *hnsw.Graph[string] // keyed by phrase hash
	phrases map[string]string   // hash -> phrase
}

// NewCatalog creates a catalog. If embedder is nil, Add and Search are no-ops.
func NewCatalog(embedder Vectorizer) *Catalog {
	return &Catalog{
		embedder: embedder,
		graph:    hnsw.NewGraph[string](),
		phrases:  make(map[string]string),
	}
}

// Enabled reports whether the catalog can embed.
func (c *Catalog) Enabled() bool {
	return c != nil && c.embedder != nil
}

// Len returns the number of indexed phrases.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.Len()
}

// Add embeds and indexes phrases that are not indexed yet.
func (c *Catalog) Add(ctx context.Context, phrases []string) error {
	if !c.Enabled() {
		return nil
	}

	type pending struct {
		hash   string
		phrase string
	}
	var toEmbed []pending
	seen := make(map[string]bool)

	c.mu.RLock()
	for _, p := range phrases {
		p = normalizePhrase(p)
		if p == "" {
			continue
		}
		hash := hashPhrase(p)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		if _, exists := c.graph.Lookup(hash); !exists {
			toEmbed = append(toEmbed, pending{hash, p})
		}
	}
	c.mu.RUnlock()

	if len(toEmbed) == 0 {
		return nil
	}

	var nodes []hnsw.Node[string]
	added := make(map[string]string, len(toEmbed))
	var firstErr error

	for i := 0; i < len(toEmbed); i += indexBatchSize {
		end := i + indexBatchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		batch := toEmbed[i:end]

		texts := make([]string, len(batch))
		for j, b := range batch {
			texts[j] = b.phrase
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Error("batch embed error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for j, b := range batch {
			nodes = append(nodes, hnsw.MakeNode(b.hash, vectors[j]))
			added[b.hash] = b.phrase
		}
	}

	if len(nodes) > 0 {
		c.mu.Lock()
		c.graph.Add(nodes...)
		for k, v := range added {
			c.phrases[k] = v
		}
		c.mu.Unlock()
		slog.Debug("vocabulary indexed", "added", len(nodes), "total", c.Len())
	}

	return firstErr
}

// Search embeds query and returns up to topK indexed phrases, nearest first.
func (c *Catalog) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if !c.Enabled() || topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vectors, err := c.embedder.EmbedBatch(ctx, []string{normalizePhrase(query)})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph.Len() == 0 {
		return nil, nil
	}

	neighbors := c.graph.Search(vectors[0], topK)
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if p, ok := c.phrases[n.Key]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Narrow returns the topK entries of vocabulary closest to query, nearest
// first. Vocabulary is indexed on demand. When the catalog is disabled or the
// search fails, the first topK entries of vocabulary are returned unchanged.
func (c *Catalog) Narrow(ctx context.Context, query string, vocabulary []string, topK int) []string {
	if topK <= 0 || len(vocabulary) <= topK {
		return vocabulary
	}
	fallback := vocabulary[:topK]
	if !c.Enabled() {
		return fallback
	}

	if err := c.Add(ctx, vocabulary); err != nil {
		slog.Debug("vocabulary indexing incomplete", "error", err)
	}

	allowed := make(map[string]string, len(vocabulary))
	for _, v := range vocabulary {
		allowed[phraseKey(v)] = v
	}

	// Other images' phrases share the graph, so over-fetch before filtering.
	hits, err := c.Search(ctx, query, topK*4)
	if err != nil {
		slog.Debug("vocabulary search failed", "error", err)
		return fallback
	}

	out := make([]string, 0, topK)
	seen := make(map[string]bool, topK)
	for _, h := range hits {
		k := phraseKey(h)
		orig, ok := allowed[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, orig)
		if len(out) == topK {
			break
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// normalizePhrase trims and collapses whitespace so equivalent phrases share a node.
func normalizePhrase(p string) string {
	return strings.Join(strings.Fields(p), " ")
}

func phraseKey(p string) string {
	return strings.ToLower(normalizePhrase(p))
}

func hashPhrase(p string) string {
	h := sha256.Sum256([]byte(phraseKey(p)))
	return fmt.Sprintf("%x", h)
}
