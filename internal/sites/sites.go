// Package sites holds static hints about domains that are known to be hard to
// extract from.
package sites

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/digest-cli/internal/model"
)

//go:embed sites.yaml
var embedded []byte

type file struct {
	Sites []model.SiteHint `yaml:"sites"`
}

// KnowledgeBase is a read-only table of SiteHints. It is safe for concurrent
// use once constructed.
type KnowledgeBase struct {
	// sorted by pattern length, longest first, so the most specific hint wins.
	hints []model.SiteHint
}

var (
	defaultOnce sync.Once
	defaultKB   *KnowledgeBase
	defaultErr  error
)

// Default returns the knowledge base built from the embedded table. It is
// parsed once per process.
func Default() (*KnowledgeBase, error) {
	defaultOnce.Do(func() {
		hints, err := parse(embedded)
		if err != nil {
			defaultErr = eris.Wrap(err, "sites: parse embedded table")
			return
		}
		defaultKB = New(hints...)
	})
	return defaultKB, defaultErr
}

// Load returns the embedded table with the hints from extraPath merged over
// it. An entry in the extra file replaces an embedded entry with the same
// pattern. An empty extraPath returns the embedded table.
func Load(extraPath string) (*KnowledgeBase, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if extraPath == "" {
		return base, nil
	}

	data, err := os.ReadFile(extraPath)
	if err != nil {
		return nil, eris.Wrapf(err, "sites: read %s", extraPath)
	}
	extra, err := parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "sites: parse %s", extraPath)
	}

	merged := make(map[string]model.SiteHint, len(base.hints)+len(extra))
	for _, h := range base.hints {
		merged[h.Pattern] = h
	}
	for _, h := range extra {
		merged[h.Pattern] = h
	}
	hints := make([]model.SiteHint, 0, len(merged))
	for _, h := range merged {
		hints = append(hints, h)
	}
	return New(hints...), nil
}

// New builds a knowledge base from explicit hints. Patterns are lowercased
// and stripped of a leading "www."; entries with an empty pattern are ignored.
func New(hints ...model.SiteHint) *KnowledgeBase {
	kb := &KnowledgeBase{hints: make([]model.SiteHint, 0, len(hints))}
	for _, h := range hints {
		h.Pattern = canonical(h.Pattern)
		if h.Pattern == "" {
			continue
		}
		kb.hints = append(kb.hints, h)
	}
	sort.SliceStable(kb.hints, func(i, j int) bool {
		if len(kb.hints[i].Pattern) != len(kb.hints[j].Pattern) {
			return len(kb.hints[i].Pattern) > len(kb.hints[j].Pattern)
		}
		return kb.hints[i].Pattern < kb.hints[j].Pattern
	})
	return kb
}

// Lookup returns the hint for host. A pattern matches the host exactly or
// as a dot-separated suffix.
func (kb *KnowledgeBase) Lookup(host string) (model.SiteHint, bool) {
	if kb == nil {
		return model.SiteHint{}, false
	}
	host = canonical(host)
	if host == "" {
		return model.SiteHint{}, false
	}
	for _, h := range kb.hints {
		if host == h.Pattern || strings.HasSuffix(host, "."+h.Pattern) {
			return h, true
		}
	}
	return model.SiteHint{}, false
}

// All returns a copy of every hint, most specific first.
func (kb *KnowledgeBase) All() []model.SiteHint {
	if kb == nil {
		return nil
	}
	out := make([]model.SiteHint, len(kb.hints))
	copy(out, kb.hints)
	return out
}

// Len returns the number of hints.
func (kb *KnowledgeBase) Len() int {
	if kb == nil {
		return 0
	}
	return len(kb.hints)
}

func parse(data []byte) ([]model.SiteHint, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Sites, nil
}

func canonical(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}
