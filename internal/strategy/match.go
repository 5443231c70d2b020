package strategy

import (
	"net/url"
	"path"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sells-group/digest-cli/internal/classify"
)

// Match scores. A slug similarity in [0.8, 1] maps onto [scoreSlugMin,
// scoreSlugMax] so a fuzzy slug never outranks a path match.
const (
	scoreExact       = 1.0
	scorePath        = 0.9
	scoreSlugMax     = 0.89
	scoreSlugMin     = 0.8
	scoreContainment = 0.7
	// minSlugLen keeps short, generic slugs ("news", "a") from fuzzy matching.
	minSlugLen = 4
)

// slugParams caps the edit distance so long unrelated slugs bail out early.
var slugParams = levenshtein.NewParams().MinScore(scoreSlugMin)

// matchScore rates how likely candidate points at the same article as
// target. Checks run from strongest to weakest: exact URL, same path, similar
// slug, then one path containing the other. Zero means no match.
func matchScore(target, candidate string) float64 {
	t, err := classify.Normalize(target)
	if err != nil {
		return 0
	}
	c, err := classify.Normalize(candidate)
	if err != nil {
		return 0
	}
	if t == c {
		return scoreExact
	}

	tp, cp := pathOf(t), pathOf(c)
	if tp == "/" || cp == "/" {
		return 0
	}
	if tp == cp {
		return scorePath
	}

	ts, cs := slug(tp), slug(cp)
	if len(ts) >= minSlugLen && len(cs) >= minSlugLen {
		if s := levenshtein.Similarity(ts, cs, slugParams); s >= scoreSlugMin {
			return scoreSlugMin + (s-scoreSlugMin)/(1-scoreSlugMin)*(scoreSlugMax-scoreSlugMin)
		}
	}

	if strings.Contains(cp, tp) || strings.Contains(tp, cp) {
		return scoreContainment
	}
	return 0
}

// bestMatch returns the highest scoring entry. ok is false when that score
// is below floor; the score is still returned for logging.
func bestMatch(target string, entries []feedEntry, floor float64) (feedEntry, float64, bool) {
	var best feedEntry
	bestScore := 0.0
	for _, e := range entries {
		s := matchScore(target, e.URL())
		if s > bestScore {
			best, bestScore = e, s
		}
		if s == scoreExact {
			break
		}
	}
	return best, bestScore, bestScore >= floor && bestScore > 0
}

// pathOf returns the lowercased path of rawURL, or "" if it does not parse.
func pathOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Path)
}

// slug returns the last path segment without its file extension.
func slug(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	s := path.Base(p)
	if s == "/" || s == "." {
		return ""
	}
	if ext := path.Ext(s); isFileExt(ext) {
		s = strings.TrimSuffix(s, ext)
	}
	return s
}

// isFileExt accepts short alphabetic extensions such as ".html" or ".php".
func isFileExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
