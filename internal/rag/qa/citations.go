package qa

import (
	"regexp"
	"strings"
)

// Highlight ties one sentence of the generated answer back to the source
// passage that grounds it.
type Highlight struct {
	Sentence    string
	SourceIndex int    // index into the ContextSource slice passed to HighlightCitations
	DocID       string
	Method      string // "substring" or "lcs"
	Score       float64
}

const (
	minSubstringMatch = 20
	minLCSRatio       = 0.6
)

var sentenceSplitter = regexp.MustCompile(`(?:[.!?]+|\n+)\s*`)

// HighlightCitations aligns each sentence of the answer with the source
// passage most likely to have grounded it, via a direct substring match
// (>= 20 chars) falling back to an LCS-ratio alignment (>= 0.6). Sentences
// with no sufficiently strong match are omitted, not force-matched.
func HighlightCitations(answer string, sources []ContextSource) []Highlight {
	sentences := splitSentences(answer)
	out := make([]Highlight, 0, len(sentences))
	for _, sent := range sentences {
		if len(strings.TrimSpace(sent)) < minSubstringMatch {
			continue
		}
		best, ok := bestMatch(sent, sources)
		if ok {
			out = append(out, best)
		}
	}
	return out
}

func splitSentences(answer string) []string {
	parts := sentenceSplitter.Split(answer, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func bestMatch(sentence string, sources []ContextSource) (Highlight, bool) {
	var best Highlight
	found := false
	for i, src := range sources {
		if !src.Included {
			continue
		}
		if strings.Contains(src.Text, sentence) {
			return Highlight{Sentence: sentence, SourceIndex: i, DocID: src.Item.DocID, Method: "substring", Score: 1.0}, true
		}
		ratio := lcsRatio(sentence, src.Text)
		if ratio >= minLCSRatio && (!found || ratio > best.Score) {
			best = Highlight{Sentence: sentence, SourceIndex: i, DocID: src.Item.DocID, Method: "lcs", Score: ratio}
			found = true
		}
	}
	return best, found
}

// lcsRatio returns len(LCS(a,b)) / len(a), the fraction of sentence a
// reconstructible as a (non-contiguous) subsequence of source text b.
func lcsRatio(a, b string) float64 {
	if len(a) == 0 {
		return 0
	}
	ar, br := []rune(a), []rune(b)
	// Cap the source side to bound the DP table for very long passages;
	// citation matches are expected near the start of a truncated source.
	if len(br) > 4000 {
		br = br[:4000]
	}
	n, m := len(ar), len(br)
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ar[i-1] == br[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcsLen := prev[m]
	return float64(lcsLen) / float64(n)
}
