package orchestrator

import (
	"slices"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/strategy"
)

// basePlans are the default strategy orders per classification.
var basePlans = map[model.Classification][]string{
	model.ClassTweet: {
		strategy.NameSyndication,
		strategy.NameBrowser,
		strategy.NameArchive,
	},
	model.ClassSECFiling: {
		strategy.NameDirectFetch,
		strategy.NameArchive,
		strategy.NameSearchCache,
	},
	model.ClassBlog: {
		strategy.NameDirectFetch,
		strategy.NameBrowser,
		strategy.NameArchive,
		strategy.NameSearchCache,
	},
	model.ClassGenericArticle: {
		strategy.NameDirectFetch,
		strategy.NameBrowser,
		strategy.NameArchive,
		strategy.NameSearchCache,
	},
}

// BuildPlan returns the ordered strategy names for a classification,
// adjusted by an optional site hint:
//   - PreferBrowser moves browser ahead of direct_fetch when the plan has both
//   - a feed URL inserts feed right after the first strategy
//   - Paywalled appends news_index
//
// Tweets keep syndication first regardless of hints.
func BuildPlan(c model.Classification, hint *model.SiteHint) []string {
	base, ok := basePlans[c]
	if !ok {
		base = basePlans[model.ClassGenericArticle]
	}
	plan := slices.Clone(base)
	if hint == nil {
		return plan
	}

	if hint.PreferBrowser && slices.Contains(plan, strategy.NameBrowser) &&
		slices.Contains(plan, strategy.NameDirectFetch) {
		plan = slices.DeleteFunc(plan, func(s string) bool { return s == strategy.NameBrowser })
		plan = slices.Insert(plan, slices.Index(plan, strategy.NameDirectFetch), strategy.NameBrowser)
	}

	if hint.FeedURL != "" && !slices.Contains(plan, strategy.NameFeed) {
		at := min(1, len(plan))
		plan = slices.Insert(plan, at, strategy.NameFeed)
	}

	if hint.Paywalled && !slices.Contains(plan, strategy.NameNewsIndex) {
		plan = append(plan, strategy.NameNewsIndex)
	}
	return plan
}

// Plan is the resolved route for one URL.
type Plan struct {
	URL            string               `json:"url"`
	Classification model.Classification `json:"classification"`
	Rule           string               `json:"rule"`
	Hint           *model.SiteHint      `json:"hint,omitempty"`
	Strategies     []string             `json:"strategies"`
}
