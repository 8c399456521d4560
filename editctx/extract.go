// Package editctx derives compact, bounded snapshots of the image editing
// state used to condition model requests.
package editctx

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	lightart "github.com/Paranoid-AF/lightart"
)

const (
	// DefaultMaxEdits caps RecentEdits when no limit is configured.
	DefaultMaxEdits = 10
	// DefaultMaxVocabulary caps Vocabulary when no limit is configured.
	DefaultMaxVocabulary = 20

	fieldMaxBytes = 160
)

// Extractor builds EditContext snapshots.
type Extractor struct {
	maxEdits      int
	maxVocabulary int
}

// NewExtractor creates an extractor. Non-positive limits select the defaults.
func NewExtractor(maxEdits, maxVocabulary int) *Extractor {
	if maxEdits <= 0 {
		maxEdits = DefaultMaxEdits
	}
	if maxVocabulary <= 0 {
		maxVocabulary = DefaultMaxVocabulary
	}
	return &Extractor{maxEdits: maxEdits, maxVocabulary: maxVocabulary}
}

// Snapshot derives an EditContext from the image state. It has no side
// effects and never aliases the input slices.
func (x *Extractor) Snapshot(img lightart.ImageState) lightart.EditContext {
	return lightart.EditContext{
		ImageID:     img.ImageID,
		ImageTags:   normalizeTags(img.Tags),
		RecentEdits: recentEdits(img.Edits, x.maxEdits),
		Vocabulary:  uniqueTrimmed(img.Vocabulary, x.maxVocabulary),
	}
}

// normalizeTags trims, lower-cases, de-duplicates and sorts tags.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// recentEdits keeps the last max edits, dropping ones without an instruction.
func recentEdits(edits []lightart.EditDescriptor, max int) []lightart.EditDescriptor {
	kept := make([]lightart.EditDescriptor, 0, len(edits))
	for _, e := range edits {
		e.Instruction = strings.TrimSpace(e.Instruction)
		e.Kind = strings.TrimSpace(e.Kind)
		if e.Instruction == "" {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	if len(kept) == 0 {
		return nil
	}
	out := make([]lightart.EditDescriptor, len(kept))
	copy(out, kept)
	return out
}

// uniqueTrimmed keeps the first max distinct non-empty entries in order.
func uniqueTrimmed(items []string, max int) []string {
	var out []string
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		if len(out) >= max {
			break
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Describe renders ec as compact prompt lines. Empty contexts render as "".
func Describe(ec lightart.EditContext) string {
	var sb strings.Builder
	if len(ec.ImageTags) > 0 {
		sb.WriteString("image: ")
		sb.WriteString(strings.Join(ec.ImageTags, ", "))
		sb.WriteString("\n")
	}
	if len(ec.RecentEdits) > 0 {
		parts := make([]string, len(ec.RecentEdits))
		for i, e := range ec.RecentEdits {
			instr := truncate(e.Instruction, fieldMaxBytes)
			if e.Kind != "" {
				parts[i] = e.Kind + ": " + instr
			} else {
				parts[i] = instr
			}
		}
		sb.WriteString("applied: ")
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// Key returns a stable hash of ec for cache keys.
func Key(ec lightart.EditContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", ec.ImageID)
	for _, t := range ec.ImageTags {
		fmt.Fprintf(h, "t:%s\x00", t)
	}
	for _, e := range ec.RecentEdits {
		fmt.Fprintf(h, "e:%s\x01%s\x00", e.Kind, e.Instruction)
	}
	for _, v := range ec.Vocabulary {
		fmt.Fprintf(h, "v:%s\x00", v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// truncate cuts s to maxBytes on a rune boundary, appending "..." if cut.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
