// Package selector implements the Selector Engine (spec.md §4.2): ranked
// CSS selector generation at record time, and multi-strategy, time-sliced
// location at replay time.
package selector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// Strategy names and scores, in descending rank (spec.md §4.2).
const (
	StrategyStableID       = "stable-id"
	StrategyTestID         = "data-testid"
	StrategyDataAttr       = "data-attr"
	StrategyAriaLabel      = "aria-label"
	StrategyRole           = "role"
	StrategyNameAttr       = "name-attr"
	StrategyTypeAttr       = "type-attr"
	StrategyClasses        = "classes"
	StrategyHierarchical   = "hierarchical-path"
	StrategyNthChild       = "nth-child"
)

var strategyScore = map[string]int{
	StrategyStableID:     95,
	StrategyTestID:       90,
	StrategyDataAttr:     85,
	StrategyAriaLabel:    80,
	StrategyRole:         78,
	StrategyNameAttr:     75,
	StrategyTypeAttr:     70,
	StrategyClasses:      60,
	StrategyHierarchical: 55,
	StrategyNthChild:     50,
}

// reactPlaceholderID matches React's auto-generated ":rN:"-style ids, which
// are rejected as unstable (spec.md §4.2 strategy 1).
var reactPlaceholderID = regexp.MustCompile(`^:r[0-9a-z]+:$`)

// frameworkClassPrefixes are excluded when building class selectors.
var frameworkClassPrefixes = []string{"ng-", "_", "css-"}

// pseudoSelectorPattern matches Playwright/jQuery-only pseudo-selectors that
// are not valid CSS and must be rejected (spec.md §4.2, §4.12).
var pseudoSelectorPattern = regexp.MustCompile(`:has-text\(|:visible|:contains\(|:has\(|:text\(|:enabled`)

// ErrInvalidPseudoSelector is returned when a selector uses a non-CSS pseudo.
type ErrInvalidPseudoSelector struct{ Selector string }

func (e *ErrInvalidPseudoSelector) Error() string {
	return fmt.Sprintf("selector %q uses a non-CSS pseudo-selector (Playwright/jQuery idiom rejected)", e.Selector)
}

// ValidateSelector rejects pseudo-selectors that are not valid CSS
// (spec.md §4.2, §4.12). This must run before any BCS call.
func ValidateSelector(sel string) error {
	if pseudoSelectorPattern.MatchString(sel) {
		return &ErrInvalidPseudoSelector{Selector: sel}
	}
	return nil
}

// ElementInfo is the record-time description of a candidate DOM element,
// as extracted by an in-page script (see internal/recorder's observerScript).
type ElementInfo struct {
	Tag        string
	ID         string
	Classes    []string
	Attributes map[string]string
	Text       string
	ParentPath []ElementInfo // ancestors, closest first, up to 5
}

// hasFrameworkPrefix reports whether a class name looks framework-generated.
func hasFrameworkPrefix(class string) bool {
	for _, p := range frameworkClassPrefixes {
		if strings.HasPrefix(class, p) {
			return true
		}
	}
	return false
}

// Generate produces ranked backup selectors for el, highest score first.
// The first candidate with content becomes the ElementTarget's primary
// selector; callers decide that split.
func Generate(el ElementInfo) []types.BackupSelector {
	var out []types.BackupSelector

	if el.ID != "" && !reactPlaceholderID.MatchString(el.ID) {
		out = append(out, types.BackupSelector{
			Selector: "#" + el.ID,
			Strategy: StrategyStableID,
			Score:    strategyScore[StrategyStableID],
		})
	}

	if v, ok := el.Attributes["data-testid"]; ok && v != "" {
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`[data-testid="%s"]`, v),
			Strategy: StrategyTestID,
			Score:    strategyScore[StrategyTestID],
		})
	}

	for k, v := range el.Attributes {
		if strings.HasPrefix(k, "data-") && k != "data-testid" && v != "" {
			out = append(out, types.BackupSelector{
				Selector: fmt.Sprintf(`[%s="%s"]`, k, v),
				Strategy: StrategyDataAttr,
				Score:    strategyScore[StrategyDataAttr],
			})
			break // one representative data-* candidate is enough
		}
	}

	if v, ok := el.Attributes["aria-label"]; ok && v != "" {
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`%s[aria-label="%s"]`, el.Tag, v),
			Strategy: StrategyAriaLabel,
			Score:    strategyScore[StrategyAriaLabel],
		})
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`[aria-label="%s"]`, v),
			Strategy: StrategyAriaLabel,
			Score:    strategyScore[StrategyAriaLabel] - 1,
		})
	}

	if v, ok := el.Attributes["role"]; ok && v != "" {
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`[role="%s"]`, v),
			Strategy: StrategyRole,
			Score:    strategyScore[StrategyRole],
		})
	}

	if v, ok := el.Attributes["name"]; ok && v != "" {
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`%s[name="%s"]`, el.Tag, v),
			Strategy: StrategyNameAttr,
			Score:    strategyScore[StrategyNameAttr],
		})
	}

	if v, ok := el.Attributes["type"]; ok && v != "" {
		out = append(out, types.BackupSelector{
			Selector: fmt.Sprintf(`%s[type="%s"]`, el.Tag, v),
			Strategy: StrategyTypeAttr,
			Score:    strategyScore[StrategyTypeAttr],
		})
	}

	if len(el.Classes) > 0 {
		var kept []string
		for _, c := range el.Classes {
			if !hasFrameworkPrefix(c) {
				kept = append(kept, c)
			}
			if len(kept) == 3 {
				break
			}
		}
		if len(kept) > 0 {
			out = append(out, types.BackupSelector{
				Selector: el.Tag + "." + strings.Join(kept, "."),
				Strategy: StrategyClasses,
				Score:    strategyScore[StrategyClasses],
			})
		}
	}

	if len(el.ParentPath) > 0 {
		var parts []string
		depth := len(el.ParentPath)
		if depth > 5 {
			depth = 5
		}
		for i := depth - 1; i >= 0; i-- {
			anc := el.ParentPath[i]
			seg := anc.Tag
			for _, c := range anc.Classes {
				if !hasFrameworkPrefix(c) {
					seg += "." + c
					break
				}
			}
			parts = append(parts, seg)
		}
		parts = append(parts, el.Tag)
		out = append(out, types.BackupSelector{
			Selector: strings.Join(parts, " > "),
			Strategy: StrategyHierarchical,
			Score:    strategyScore[StrategyHierarchical],
		})
	}

	return out
}

// BuildTarget assembles an ElementTarget from generated candidates, bounding
// box, and attribute map. The highest-scored candidate becomes primary.
func BuildTarget(el ElementInfo, box types.BoundingBox, parentSelector string, disabled bool) types.ElementTarget {
	candidates := Generate(el)
	target := types.ElementTarget{
		Tag:            el.Tag,
		Attributes:     el.Attributes,
		BoundingBox:    box,
		ParentSelector: parentSelector,
		Disabled:       disabled,
		Text:           truncate(el.Text, 200),
	}
	if len(candidates) > 0 {
		target.PrimarySelector = candidates[0].Selector
		target.BackupSelectors = candidates
	} else {
		// Fall back to "parent > tag" when no stronger candidate exists. No
		// :nth-child index is added, so this selector matches the parent's
		// first child with that tag.
		target.PrimarySelector = parentSelector + " > " + el.Tag
		target.BackupSelectors = []types.BackupSelector{{
			Selector: target.PrimarySelector,
			Strategy: StrategyNthChild,
			Score:    strategyScore[StrategyNthChild],
		}}
	}
	return target
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// LiveLocator resolves a selector against the live DOM; implemented by
// internal/executor's tabLocator in production and faked in tests.
type LiveLocator interface {
	// Locate reports whether selector matches an element in the live DOM
	// and returns that element's tag and id; Locate (the function) compares
	// them against the recorded target.
	Locate(ctx context.Context, selector string) (matched bool, tag string, id string, err error)
}

// LocateResult reports how an ElementTarget was resolved at replay time.
type LocateResult struct {
	Selector string
	Strategy string
	Attempted []string
}

// TextLocator is an optional LiveLocator capability for the text-content
// fallback (spec.md §4.2). CSS has no standard text-content selector —
// jQuery/Playwright's :contains()/:has-text() idioms are rejected by
// ValidateSelector as non-CSS — so this fallback needs a dedicated
// capability instead of a constructed selector string. Implementations that
// don't support it are simply skipped for this fallback.
type TextLocator interface {
	// LocateByText reports whether exactly one element tagged tag
	// has text content matching text, and returns a selector usable to
	// re-locate it for the action that follows.
	LocateByText(ctx context.Context, tag, text string) (matched bool, selector string, err error)
}

// Locate attempts target's primary selector then each backup, in score
// order, within a per-strategy time slice of overallTimeout/(candidateCount+2)
// (two slices are reserved for the fallback passes), then falls through to semantic (role/aria-label/name) and text-content
// fallbacks (spec.md §4.2).
func Locate(ctx context.Context, loc LiveLocator, target types.ElementTarget, overallTimeout time.Duration) (*LocateResult, error) {
	candidates := allCandidates(target)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate selectors for element")
	}

	slice := overallTimeout / time.Duration(len(candidates)+2) // reserve slices for the two fallback passes
	if slice <= 0 {
		slice = overallTimeout
	}

	var attempted []string
	for _, c := range candidates {
		if err := ValidateSelector(c.Selector); err != nil {
			attempted = append(attempted, c.Selector+" (rejected: "+err.Error()+")")
			continue
		}
		attempted = append(attempted, c.Selector)

		sliceCtx, cancel := context.WithTimeout(ctx, slice)
		matched, tag, id, err := loc.Locate(sliceCtx, c.Selector)
		cancel()
		if err != nil {
			continue
		}
		if !matched || (target.Tag != "" && !strings.EqualFold(tag, target.Tag)) {
			continue
		}
		if recordedID, ok := target.Attributes["id"]; ok && recordedID != "" && recordedID != id {
			continue
		}
		return &LocateResult{Selector: c.Selector, Strategy: c.Strategy, Attempted: attempted}, nil
	}

	if res, ok := locateBySemantics(ctx, loc, target, slice, &attempted); ok {
		return res, nil
	}

	if res, ok := locateByText(ctx, loc, target, slice, &attempted); ok {
		return res, nil
	}

	return nil, &NotFoundError{Target: target, Attempted: attempted}
}

// locateBySemantics reconstructs role/aria-label/name attribute selectors
// directly from target.Attributes, independent of whatever backup
// selectors were actually recorded — this covers pages where the
// original selectors have since drifted but the element's semantic
// identity hasn't (spec.md §4.2 "semantic ... fallback").
func locateBySemantics(ctx context.Context, loc LiveLocator, target types.ElementTarget, slice time.Duration, attempted *[]string) (*LocateResult, bool) {
	tryAttr := func(strategy, sel string) (*LocateResult, bool) {
		*attempted = append(*attempted, sel)
		sliceCtx, cancel := context.WithTimeout(ctx, slice)
		matched, tag, _, err := loc.Locate(sliceCtx, sel)
		cancel()
		if err != nil || !matched || !strings.EqualFold(tag, target.Tag) {
			return nil, false
		}
		return &LocateResult{Selector: sel, Strategy: strategy, Attempted: *attempted}, true
	}

	if v := target.Attributes["role"]; v != "" {
		if res, ok := tryAttr(StrategyRole, fmt.Sprintf(`[role="%s"]`, v)); ok {
			return res, true
		}
	}
	if v := target.Attributes["aria-label"]; v != "" {
		if res, ok := tryAttr(StrategyAriaLabel, fmt.Sprintf(`%s[aria-label="%s"]`, target.Tag, v)); ok {
			return res, true
		}
	}
	if v := target.Attributes["name"]; v != "" {
		if res, ok := tryAttr(StrategyNameAttr, fmt.Sprintf(`%s[name="%s"]`, target.Tag, v)); ok {
			return res, true
		}
	}
	return nil, false
}

// locateByText asks loc (when it implements TextLocator) to find target.Tag
// by its recorded visible text (spec.md §4.2 "text-content-within-tag
// fallback"), the last resort before TargetNotFound.
func locateByText(ctx context.Context, loc LiveLocator, target types.ElementTarget, slice time.Duration, attempted *[]string) (*LocateResult, bool) {
	tl, ok := loc.(TextLocator)
	if !ok || strings.TrimSpace(target.Text) == "" {
		return nil, false
	}
	*attempted = append(*attempted, fmt.Sprintf("text-content:%s:%q", target.Tag, target.Text))

	sliceCtx, cancel := context.WithTimeout(ctx, slice)
	defer cancel()
	matched, sel, err := tl.LocateByText(sliceCtx, target.Tag, target.Text)
	if err != nil || !matched {
		return nil, false
	}
	return &LocateResult{Selector: sel, Strategy: "text-content", Attempted: *attempted}, true
}

func allCandidates(target types.ElementTarget) []types.BackupSelector {
	all := append([]types.BackupSelector{{
		Selector: target.PrimarySelector,
		Strategy: "primary",
		Score:    100,
	}}, target.BackupSelectors...)
	return all
}

// NotFoundError is spec.md §7's TargetNotFound, carrying the attempted
// strategy list as suggestions.
type NotFoundError struct {
	Target    types.ElementTarget
	Attempted []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("target not found: tried %d selector strategies for <%s>", len(e.Attempted), e.Target.Tag)
}

func (e *NotFoundError) Suggestions() []string {
	return e.Attempted
}
