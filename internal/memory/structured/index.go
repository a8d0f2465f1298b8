package structured

import (
	"math"
	"sort"

	"github.com/agnivade/levenshtein"
)

const (
	bm25K1    = 1.2
	bm25B     = 0.75
	bm25Delta = 1.0

	fuzzyMaxEditDistance = 0.2 // normalized; similarity >= 0.8 counts as a fuzzy hit
)

// fieldWeights are the per-field boosts named by the index contract:
// tags weigh highest, then category, then the summary body.
var fieldWeights = map[string]float64{
	"summary":  1.0,
	"tags":     2.0,
	"category": 1.5,
}

var indexedFields = []string{"summary", "tags", "category"}

// fieldPostings holds term statistics for one field across the corpus.
type fieldPostings struct {
	DF       map[string]int            `json:"df"`       // term -> number of docs containing it
	TF       map[string]map[string]int `json:"tf"`       // term -> itemID -> count in this field
	DocLen   map[string]int            `json:"docLen"`   // itemID -> token count in this field
	TotalLen int                       `json:"totalLen"` // sum of DocLen, for the field average
}

func newFieldPostings() *fieldPostings {
	return &fieldPostings{
		DF:     make(map[string]int),
		TF:     make(map[string]map[string]int),
		DocLen: make(map[string]int),
	}
}

func (f *fieldPostings) avgLen() float64 {
	if len(f.DocLen) == 0 {
		return 0
	}
	return float64(f.TotalLen) / float64(len(f.DocLen))
}

// Index is an in-memory BM25+ index over structured memory items,
// with field boosts, fuzzy matching, and prefix matching for queries
// that don't hit an exact term.
type Index struct {
	Fields map[string]*fieldPostings `json:"fields"`
	DocIDs map[string]bool           `json:"docIDs"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	idx := &Index{Fields: make(map[string]*fieldPostings), DocIDs: make(map[string]bool)}
	for _, f := range indexedFields {
		idx.Fields[f] = newFieldPostings()
	}
	return idx
}

// document is the minimal shape the index needs from a memory item,
// kept separate from types.MemoryItem so this package doesn't need to
// know about access counts or timestamps.
type document struct {
	ID       string
	Summary  string
	Tags     string // joined by spaces
	Category string
}

// Add indexes a single document, replacing any prior entry for the
// same ID.
func (idx *Index) Add(doc document) {
	idx.Remove(doc.ID)
	idx.DocIDs[doc.ID] = true

	texts := map[string]string{
		"summary":  doc.Summary,
		"tags":     doc.Tags,
		"category": doc.Category,
	}
	for _, field := range indexedFields {
		tokens := tokenize(texts[field])
		postings := idx.Fields[field]
		postings.DocLen[doc.ID] = len(tokens)
		postings.TotalLen += len(tokens)

		counts := make(map[string]int)
		for _, tok := range tokens {
			counts[tok]++
		}
		for term, n := range counts {
			if postings.TF[term] == nil {
				postings.TF[term] = make(map[string]int)
			}
			if _, existed := postings.TF[term][doc.ID]; !existed {
				postings.DF[term]++
			}
			postings.TF[term][doc.ID] = n
		}
	}
}

// Remove deletes a document's entries from every field's postings.
func (idx *Index) Remove(id string) {
	if !idx.DocIDs[id] {
		return
	}
	delete(idx.DocIDs, id)
	for _, postings := range idx.Fields {
		if n, ok := postings.DocLen[id]; ok {
			postings.TotalLen -= n
			delete(postings.DocLen, id)
		}
		for term, docs := range postings.TF {
			if _, ok := docs[id]; ok {
				delete(docs, id)
				postings.DF[term]--
				if postings.DF[term] <= 0 {
					delete(postings.DF, term)
					delete(postings.TF, term)
				}
			}
		}
	}
}

// idf computes the BM25 inverse document frequency for a term with
// document frequency df, out of n total documents.
func idf(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// matchingTerms returns every indexed term in field that either equals
// queryTerm, has queryTerm as a prefix, or is within fuzzyMaxEditDistance
// normalized edit distance of it: the OR-combined exact/prefix/fuzzy
// match the index contract requires.
func matchingTerms(postings *fieldPostings, queryTerm string) []string {
	var matches []string
	for term := range postings.DF {
		if term == queryTerm {
			matches = append(matches, term)
			continue
		}
		if len(queryTerm) >= 2 && len(term) >= len(queryTerm) && term[:len(queryTerm)] == queryTerm {
			matches = append(matches, term)
			continue
		}
		if similarity(term, queryTerm) >= 1-fuzzyMaxEditDistance {
			matches = append(matches, term)
		}
	}
	return matches
}

// similarity computes normalized Levenshtein similarity in [0,1].
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// Match is one search result: a document ID and its combined,
// field-boosted BM25+ score.
type Match struct {
	ID    string
	Score float64
}

// Search scores every indexed document against the query terms,
// combining per-field BM25+ scores with the field's boost, and
// returns matches sorted by score descending, ties broken by ID
// ascending for determinism.
func (idx *Index) Search(query string) []Match {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	n := len(idx.DocIDs)
	if n == 0 {
		return nil
	}

	for _, field := range indexedFields {
		postings := idx.Fields[field]
		boost := fieldWeights[field]
		avg := postings.avgLen()
		if avg == 0 {
			continue
		}

		for _, qt := range queryTerms {
			for _, term := range matchingTerms(postings, qt) {
				df := postings.DF[term]
				weight := idf(n, df)
				for docID, tf := range postings.TF[term] {
					docLen := postings.DocLen[docID]
					denom := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(docLen)/avg)
					scoreTerm := weight*(float64(tf)*(bm25K1+1)/denom) + bm25Delta
					scores[docID] += boost * scoreTerm
				}
			}
		}
	}

	matches := make([]Match, 0, len(scores))
	for id, score := range scores {
		matches = append(matches, Match{ID: id, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}
