// Package pagecontext implements the Page Context Extractor (spec.md §4.3):
// full or viewport-scoped enumeration of interactive elements and forms via
// in-page script evaluation, adapted from the teacher's ARIA-snapshot style
// in internal/browser/snapshot.go to raw DOM tag/attribute enumeration.
package pagecontext

import (
	"context"
	"fmt"
	"time"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// Evaluator runs a JS expression in the page and unmarshals the JSON result.
type Evaluator interface {
	EvalInPage(ctx context.Context, script string, out any) error
}

// ScrollTarget describes a pre-extraction scroll request (spec.md §4.3).
type ScrollTarget struct {
	Mode            string // "top", "bottom", "absolute", "element"
	AbsoluteY       float64
	PrimarySelector string
	BackupSelectors []string
}

const scrollSettleWait = 2 * time.Second

// interactiveSelector is the tag/role/aria query used to enumerate
// candidate interactive elements (spec.md §4.3).
const interactiveSelector = `button, a[href], input, textarea, select, ` +
	`[role="button"], [role="link"], [role="tab"], [role="menuitem"], [onclick], [tabindex]`

// extractScript is evaluated in-page. It returns interactive elements and
// forms as JSON, applying the visibility and (optionally) viewport-buffer
// filters spec.md §4.3 requires. maxElements caps the result; viewport
// triggers the 100px-buffer intersection filter when true.
const extractScript = `(function(maxElements, viewportOnly) {
  function visible(el) {
    const cs = getComputedStyle(el);
    if (cs.display === 'none' || cs.visibility === 'hidden' || parseFloat(cs.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  }
  function inViewport(r) {
    const buf = 100;
    return r.right >= -buf && r.bottom >= -buf &&
           r.left <= window.innerWidth + buf && r.top <= window.innerHeight + buf;
  }
  function selectorFor(el) {
    if (el.id) return '#' + CSS.escape(el.id);
    let path = el.tagName.toLowerCase();
    const cls = Array.from(el.classList || []).filter(c => !/^(ng-|_|css-)/.test(c)).slice(0, 3);
    if (cls.length) path += '.' + cls.join('.');
    return path;
  }
  function attrs(el) {
    const out = {};
    for (const a of el.attributes) out[a.name] = a.value;
    return out;
  }
  const seen = new Set();
  const elements = [];
  const nodes = document.querySelectorAll(%s);
  for (const el of nodes) {
    if (elements.length >= maxElements) break;
    if (!visible(el)) continue;
    const r = el.getBoundingClientRect();
    if (viewportOnly && !inViewport(r)) continue;
    const sel = selectorFor(el);
    if (seen.has(sel)) continue;
    seen.add(sel);
    elements.push({
      selector: sel,
      tag: el.tagName.toLowerCase(),
      text: (el.textContent || '').trim().slice(0, 200),
      boundingBox: {x: r.x, y: r.y, width: r.width, height: r.height},
      parentSelector: el.parentElement ? selectorFor(el.parentElement) : '',
      disabled: !!el.disabled,
      attributes: attrs(el)
    });
  }
  const forms = [];
  for (const f of document.querySelectorAll('form')) {
    const fields = [];
    for (const field of f.elements) {
      fields.push({selector: selectorFor(field), tag: field.tagName.toLowerCase(), name: field.name || '', type: field.type || ''});
    }
    forms.push({selector: selectorFor(f), action: f.action || '', fields});
  }
  return {
    url: location.href,
    title: document.title,
    interactiveElements: elements,
    forms: forms,
    stats: {totalElements: document.querySelectorAll('*').length, interactiveElements: elements.length, forms: forms.length},
    viewport: {width: window.innerWidth, height: window.innerHeight, scrollX: Math.round(window.scrollX), scrollY: Math.round(window.scrollY), maxScrollX: Math.max(0, document.documentElement.scrollWidth - window.innerWidth), maxScrollY: Math.max(0, document.documentElement.scrollHeight - window.innerHeight)}
  };
})(%d, %v)`

type rawResult struct {
	URL                 string                      `json:"url"`
	Title               string                      `json:"title"`
	InteractiveElements []types.InteractiveElement `json:"interactiveElements"`
	Forms               []types.Form                `json:"forms"`
	Stats               types.Stats                  `json:"stats"`
	Viewport            types.Viewport               `json:"viewport"`
}

// ExtractFull enumerates every interactive element/form in document order,
// up to maxElements (spec.md §4.3 "Full" mode).
func ExtractFull(ctx context.Context, ev Evaluator, maxElements int) (*types.PageContext, error) {
	return extract(ctx, ev, maxElements, false)
}

// ExtractViewport is like ExtractFull but filters to elements intersecting
// the viewport rect extended by a 100px buffer, and returns viewport
// metadata. scroll, if non-nil, is a pre-extraction scroll request.
func ExtractViewport(ctx context.Context, ev Evaluator, maxElements int, scroll *ScrollTarget) (*types.PageContext, error) {
	if scroll != nil {
		if err := applyScroll(ctx, ev, *scroll); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(scrollSettleWait):
		}
	}
	return extract(ctx, ev, maxElements, true)
}

func extract(ctx context.Context, ev Evaluator, maxElements int, viewportOnly bool) (*types.PageContext, error) {
	script := fmt.Sprintf(extractScript, quoteJS(interactiveSelector), maxElements, viewportOnly)
	var raw rawResult
	if err := ev.EvalInPage(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("extract page context: %w", err)
	}
	pc := &types.PageContext{
		URL:                 raw.URL,
		Title:               raw.Title,
		InteractiveElements: raw.InteractiveElements,
		Forms:               raw.Forms,
		Stats:               raw.Stats,
		ExtractedAt:         time.Now(),
	}
	if viewportOnly {
		v := raw.Viewport
		pc.Viewport = &v
	}
	return pc, nil
}

func quoteJS(s string) string {
	return "'" + s + "'"
}

func applyScroll(ctx context.Context, ev Evaluator, t ScrollTarget) error {
	var script string
	switch t.Mode {
	case "top":
		script = `window.scrollTo(0, 0)`
	case "bottom":
		script = `window.scrollTo(0, document.documentElement.scrollHeight)`
	case "absolute":
		script = fmt.Sprintf(`window.scrollTo(0, %f)`, t.AbsoluteY)
	case "element":
		selectors := append([]string{t.PrimarySelector}, t.BackupSelectors...)
		script = buildScrollToElementScript(selectors)
	default:
		return fmt.Errorf("unknown scroll mode %q", t.Mode)
	}
	var discard any
	return ev.EvalInPage(ctx, script, &discard)
}

func buildScrollToElementScript(selectors []string) string {
	script := "(function(sels){for (const s of sels){const el = document.querySelector(s); if (el) { el.scrollIntoView({block:'center'}); return true; }} return false;})(["
	for i, s := range selectors {
		if i > 0 {
			script += ","
		}
		script += quoteJS(s)
	}
	return script + "])"
}
