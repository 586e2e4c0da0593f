package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func TestValidateSelector(t *testing.T) {
	require.NoError(t, ValidateSelector("#submit"))
	require.NoError(t, ValidateSelector("button[type=submit]"))

	err := ValidateSelector(`button:has-text("Submit")`)
	var pseudoErr *ErrInvalidPseudoSelector
	require.ErrorAs(t, err, &pseudoErr)
}

func TestGenerate_PrefersStableIDOverClasses(t *testing.T) {
	el := ElementInfo{
		Tag:     "button",
		ID:      "checkout-btn",
		Classes: []string{"btn", "btn-primary"},
	}
	candidates := Generate(el)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "#checkout-btn", candidates[0].Selector)
	assert.Equal(t, StrategyStableID, candidates[0].Strategy)
}

func TestGenerate_RejectsReactPlaceholderID(t *testing.T) {
	el := ElementInfo{Tag: "div", ID: ":r3:"}
	candidates := Generate(el)
	for _, c := range candidates {
		assert.NotEqual(t, StrategyStableID, c.Strategy)
	}
}

func TestGenerate_FiltersFrameworkClassPrefixes(t *testing.T) {
	el := ElementInfo{Tag: "div", Classes: []string{"ng-star-inserted", "_hashed123", "real-class"}}
	candidates := Generate(el)
	var classCandidate *types.BackupSelector
	for i := range candidates {
		if candidates[i].Strategy == StrategyClasses {
			classCandidate = &candidates[i]
		}
	}
	require.NotNil(t, classCandidate)
	assert.Equal(t, "div.real-class", classCandidate.Selector)
}

func TestBuildTarget_FallsBackToParentNthChild(t *testing.T) {
	el := ElementInfo{Tag: "span"}
	target := BuildTarget(el, types.BoundingBox{}, "div.container", false)
	assert.Equal(t, "div.container > span", target.PrimarySelector)
	require.Len(t, target.BackupSelectors, 1)
	assert.Equal(t, StrategyNthChild, target.BackupSelectors[0].Strategy)
}

type fakeLocator struct {
	matches map[string]struct {
		tag string
		id  string
	}
}

func (f *fakeLocator) Locate(ctx context.Context, selector string) (bool, string, string, error) {
	m, ok := f.matches[selector]
	if !ok {
		return false, "", "", nil
	}
	return true, m.tag, m.id, nil
}

func TestLocate_FallsThroughToBackupSelector(t *testing.T) {
	target := types.ElementTarget{
		Tag:             "button",
		PrimarySelector: "#gone",
		BackupSelectors: []types.BackupSelector{
			{Selector: ".btn-primary", Strategy: StrategyClasses, Score: 60},
		},
	}
	loc := &fakeLocator{matches: map[string]struct {
		tag string
		id  string
	}{
		".btn-primary": {tag: "button"},
	}}

	result, err := Locate(context.Background(), loc, target, 0)
	require.NoError(t, err)
	assert.Equal(t, ".btn-primary", result.Selector)
	assert.Equal(t, StrategyClasses, result.Strategy)
}

func TestLocate_RejectsPseudoSelectorCandidate(t *testing.T) {
	target := types.ElementTarget{
		Tag:             "button",
		PrimarySelector: `button:has-text("Submit")`,
		BackupSelectors: []types.BackupSelector{
			{Selector: "#submit", Strategy: StrategyStableID, Score: 95},
		},
	}
	loc := &fakeLocator{matches: map[string]struct {
		tag string
		id  string
	}{
		"#submit": {tag: "button"},
	}}

	result, err := Locate(context.Background(), loc, target, 0)
	require.NoError(t, err)
	assert.Equal(t, "#submit", result.Selector)
}

func TestLocate_NotFoundReturnsAttemptedStrategies(t *testing.T) {
	target := types.ElementTarget{Tag: "button", PrimarySelector: "#nope"}
	loc := &fakeLocator{matches: map[string]struct {
		tag string
		id  string
	}{}}

	_, err := Locate(context.Background(), loc, target, 0)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"#nope"}, notFound.Suggestions())
}
