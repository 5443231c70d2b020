package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/pkg/factcheck"
)

// DefaultMaxClaims is the number of candidate sentences checked per URL.
const DefaultMaxClaims = 3

const (
	minClaimLen = 40
	maxClaimLen = 300
)

var sentenceEnd = regexp.MustCompile(`[.!?]["'”’)]?\s+`)

// checkFacts searches published fact-checks for the most checkable
// sentences in c and flattens every review into a Rating.
func (p *Pipeline) checkFacts(ctx context.Context, c *model.Content) ([]model.Rating, error) {
	queries := CandidateClaims(c.Text, p.maxClaims)
	if len(queries) == 0 && c.Title != "" {
		queries = []string{c.Title}
	}

	var ratings []model.Rating
	seen := make(map[string]bool)
	for _, q := range queries {
		claims, err := p.factcheck.Search(ctx, q)
		if err != nil {
			return nil, eris.Wrapf(err, "fact check %q", truncateQuery(q))
		}
		for _, r := range toRatings(claims) {
			key := r.ReviewURL + "|" + r.Claim
			if seen[key] {
				continue
			}
			seen[key] = true
			ratings = append(ratings, r)
		}
	}
	return ratings, nil
}

// CandidateClaims picks up to n sentences that look like checkable factual
// claims: declarative, of moderate length, and containing a number or a
// quotation. Longer sentences rank first; ties keep text order.
func CandidateClaims(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	var cands []string
	for _, s := range splitSentences(text) {
		if isCandidate(s) {
			cands = append(cands, s)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return len(cands[i]) > len(cands[j])
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

func splitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(strings.TrimLeft(para, "#>*- "))
		if para == "" {
			continue
		}
		last := 0
		for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
			out = append(out, strings.TrimSpace(para[last:loc[1]]))
			last = loc[1]
		}
		if rest := strings.TrimSpace(para[last:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func isCandidate(s string) bool {
	if len(s) < minClaimLen || len(s) > maxClaimLen {
		return false
	}
	if strings.HasSuffix(s, "?") {
		return false
	}
	if strings.ContainsAny(s, "\"“”") {
		return true
	}
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func toRatings(claims []factcheck.Claim) []model.Rating {
	var out []model.Rating
	for _, c := range claims {
		for _, rev := range c.ClaimReview {
			publisher := rev.Publisher.Name
			if publisher == "" {
				publisher = rev.Publisher.Site
			}
			out = append(out, model.Rating{
				Claim:         c.Text,
				Claimant:      c.Claimant,
				Publisher:     publisher,
				TextualRating: rev.TextualRating,
				ReviewURL:     rev.URL,
				ReviewDate:    rev.ReviewDate,
			})
		}
	}
	return out
}

func truncateQuery(q string) string {
	r := []rune(q)
	if len(r) <= 60 {
		return q
	}
	return string(r[:60]) + "..."
}
