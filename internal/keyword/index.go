package keyword

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Match is a scored chunk. Score is in [0, 1].
type Match struct {
	ChunkID string
	Score   float64
}

// posting records how often a term occurs in one chunk
type posting struct {
	chunkID   string
	frequency int
}

// Index is an in-memory inverted index over chunk text
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // term -> chunk ID -> frequency
	terms    map[string]map[string]int // chunk ID -> term -> frequency
}

// New creates an empty index
func New() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		terms:    make(map[string]map[string]int),
	}
}

// Tokenize lowercases text, strips punctuation and splits on whitespace
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}

// Upsert replaces the indexed text of chunkID
func (idx *Index) Upsert(chunkID, text string) {
	freq := termFrequencies(Tokenize(text))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(chunkID)
	idx.terms[chunkID] = freq
	for term, n := range freq {
		list, ok := idx.postings[term]
		if !ok {
			list = make(map[string]int)
			idx.postings[term] = list
		}
		list[chunkID] = n
	}
}

// Delete removes chunkID if present
func (idx *Index) Delete(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
}

func (idx *Index) removeLocked(chunkID string) {
	freq, ok := idx.terms[chunkID]
	if !ok {
		return
	}
	for term := range freq {
		list := idx.postings[term]
		delete(list, chunkID)
		if len(list) == 0 {
			delete(idx.postings, term)
		}
	}
	delete(idx.terms, chunkID)
}

// Len returns the number of indexed chunks
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.terms)
}

// Search returns up to k chunks sharing at least one term with query, ordered
// by score descending, then chunk ID. A chunk's score is the number of query
// tokens it matches, each term counted at most as often as it occurs in both
// texts, divided by the number of query tokens. k <= 0 returns all matches.
func (idx *Index) Search(query string, k int) []Match {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []Match{}
	}
	queryFreq := termFrequencies(tokens)

	idx.mu.RLock()
	overlap := make(map[string]int)
	for term, qn := range queryFreq {
		for _, p := range idx.postingsLocked(term) {
			overlap[p.chunkID] += min(qn, p.frequency)
		}
	}
	idx.mu.RUnlock()

	matches := make([]Match, 0, len(overlap))
	total := float64(len(tokens))
	for id, n := range overlap {
		matches = append(matches, Match{ChunkID: id, Score: float64(n) / total})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (idx *Index) postingsLocked(term string) []posting {
	list := idx.postings[term]
	out := make([]posting, 0, len(list))
	for id, n := range list {
		out = append(out, posting{chunkID: id, frequency: n})
	}
	return out
}
