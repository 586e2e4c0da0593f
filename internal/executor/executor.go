// Package executor implements the Action Executor (spec.md §4.5): the
// fixed tool set over the Browser Control Surface and Selector Engine,
// reimplemented from the teacher's internal/browser/actions.go Playwright
// dispatch onto chromedp (see DESIGN.md).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/pagecontext"
	"github.com/wayfarer-dev/wayfarer/internal/selector"
	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

const keystrokeSpacing = 15 * time.Millisecond
const clickSettleDelay = 100 * time.Millisecond

// Executor runs tool calls against one tab. It never retries — retry is an
// Orchestrator concern (spec.md §4.5).
type Executor struct {
	tab *bcs.Tab
}

// New returns an Executor bound to tab.
func New(tab *bcs.Tab) *Executor {
	return &Executor{tab: tab}
}

// Execute runs toolName with input and returns a ToolResult; it never
// returns a non-nil error for tool-level failures — those are reported in
// ToolResult.Error (spec.md §4.5 "Errors are returned, not thrown").
func (e *Executor) Execute(ctx context.Context, toolName string, input map[string]any) *types.ToolResult {
	switch toolName {
	case toolregistry.ToolNavigate:
		return e.navigate(ctx, input)
	case toolregistry.ToolClick:
		return e.click(ctx, input)
	case toolregistry.ToolType:
		return e.typeText(ctx, input)
	case toolregistry.ToolSelect:
		return e.selectOption(ctx, input)
	case toolregistry.ToolCheckbox:
		return e.setCheckbox(ctx, input)
	case toolregistry.ToolRadio:
		return e.setRadio(ctx, input)
	case toolregistry.ToolWait:
		return e.wait(ctx, input)
	case toolregistry.ToolWaitForElement:
		return e.waitForElement(ctx, input)
	case toolregistry.ToolKeyPress:
		return e.keyPress(ctx, input)
	case toolregistry.ToolScroll:
		return e.scroll(ctx, input)
	case toolregistry.ToolSubmit:
		return e.submit(ctx, input)
	case toolregistry.ToolExtractContext:
		return e.extractContext(ctx, input)
	case toolregistry.ToolTakeSnapshot:
		return e.takeSnapshot(ctx, input)
	default:
		return errResult("UnknownTool", fmt.Sprintf("no such tool %q", toolName), e.currentURL(ctx))
	}
}

func (e *Executor) currentURL(ctx context.Context) string {
	var url string
	_ = e.tab.EvalInPage(ctx, `location.href`, &url)
	return url
}

func errResult(code, message, url string) *types.ToolResult {
	return &types.ToolResult{
		Success: false,
		Error:   &types.ToolErrorDetail{Code: code, Message: message},
		URL:     url,
	}
}

// locateTarget builds an ElementTarget from selector+backupSelectors and
// locates it live via the Selector Engine, waiting up to waitForElement.
func (e *Executor) locateTarget(ctx context.Context, sel string, backups []string, waitFor time.Duration) (*selector.LocateResult, error) {
	target := types.ElementTarget{PrimarySelector: sel}
	for _, b := range backups {
		target.BackupSelectors = append(target.BackupSelectors, types.BackupSelector{Selector: b})
	}
	if waitFor <= 0 {
		waitFor = 10 * time.Second
	}
	deadline := time.Now().Add(waitFor)
	for {
		res, err := selector.Locate(ctx, tabLocator{e.tab}, target, time.Until(deadline))
		if _, notFound := err.(*selector.NotFoundError); err == nil || !notFound || ctx.Err() != nil || time.Until(deadline) <= 100*time.Millisecond {
			return res, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

type tabLocator struct{ tab *bcs.Tab }

func (l tabLocator) Locate(ctx context.Context, sel string) (bool, string, string, error) {
	var res struct {
		Found bool   `json:"found"`
		Tag   string `json:"tag"`
		ID    string `json:"id"`
	}
	script := fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(!el) return {found:false}; return {found:true, tag:el.tagName.toLowerCase(), id:el.id||''};})()`, sel)
	if err := l.tab.EvalInPage(ctx, script, &res); err != nil {
		return false, "", "", err
	}
	return res.Found, res.Tag, res.ID, nil
}

// LocateByText implements selector.TextLocator: finds the single element
// tagged tag whose trimmed textContent equals text (visibility is not
// checked), and returns a root-anchored chain of nth-of-type CSS steps that
// can re-locate it.
func (l tabLocator) LocateByText(ctx context.Context, tag, text string) (bool, string, error) {
	var res struct {
		Found    bool   `json:"found"`
		Selector string `json:"selector"`
	}
	script := fmt.Sprintf(`(function(){
		const wanted = %q.trim();
		const tag = %q;
		const all = Array.from(document.getElementsByTagName(tag));
		const matches = all.filter(function(el){ return el.textContent && el.textContent.trim() === wanted; });
		if (matches.length !== 1) return {found:false};
		const parts = [];
		for (let n = matches[0]; n && n.parentElement; n = n.parentElement) {
			const siblings = Array.from(n.parentElement.children).filter(function(s){ return s.tagName === n.tagName; });
			parts.unshift(n.tagName.toLowerCase() + ':nth-of-type(' + (siblings.indexOf(n) + 1) + ')');
		}
		return {found:true, selector: 'html > ' + parts.join(' > ')};
	})()`, text, tag)
	if err := l.tab.EvalInPage(ctx, script, &res); err != nil {
		return false, "", err
	}
	return res.Found, res.Selector, nil
}

func strInput(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func boolInput(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}

func intInput(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func strSliceInput(input map[string]any, key string) []string {
	raw, _ := input[key].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Executor) navigate(ctx context.Context, input map[string]any) *types.ToolResult {
	url := strInput(input, "url")
	policy := bcs.WaitPolicy(strInput(input, "waitUntil"))
	if policy == "" {
		policy = bcs.WaitLoad
	}
	timeout := 30 * time.Second
	if t := intInput(input, "timeout"); t > 0 {
		timeout = time.Duration(t) * time.Millisecond
	}

	if err := e.tab.Navigate(ctx, url, policy, timeout); err != nil {
		return e.classifyBrowserErr(ctx, err, "navigate")
	}
	return &types.ToolResult{Success: true, Summary: "navigated to " + url, URL: e.currentURL(ctx)}
}

func (e *Executor) click(ctx context.Context, input map[string]any) *types.ToolResult {
	sel := strInput(input, "selector")
	backups := strSliceInput(input, "backupSelectors")
	waitFor := time.Duration(intInput(input, "waitForElement")) * time.Millisecond

	if err := selector.ValidateSelector(sel); err != nil {
		return errResult("InvalidSelector", err.Error(), e.currentURL(ctx))
	}

	loc, err := e.locateTarget(ctx, sel, backups, waitFor)
	if err != nil {
		return e.notFoundResult(ctx, err)
	}

	var box struct {
		X, Y, Width, Height float64
		Disabled            bool
	}
	script := fmt.Sprintf(`(function(){const el=document.querySelector(%q); el.scrollIntoView({block:'center'}); const r=el.getBoundingClientRect(); return {X:r.x+r.width/2, Y:r.y+r.height/2, Width:r.width, Height:r.height, Disabled: !!el.disabled};})()`, loc.Selector)
	if err := e.tab.EvalInPage(ctx, script, &box); err != nil {
		return e.classifyBrowserErr(ctx, err, "click")
	}
	if boolInput(input, "verifyVisible") && (box.Width == 0 || box.Height == 0) {
		return errResult("NotClickable", "element has zero-size bounding box", e.currentURL(ctx))
	}
	if box.Disabled {
		return errResult("NotClickable", "element is disabled", e.currentURL(ctx))
	}

	if err := e.tab.DispatchMouse(ctx, box.X, box.Y, bcs.MousePress, "left", 1); err != nil {
		return e.classifyBrowserErr(ctx, err, "click")
	}
	if err := e.tab.DispatchMouse(ctx, box.X, box.Y, bcs.MouseRelease, "left", 1); err != nil {
		return e.classifyBrowserErr(ctx, err, "click")
	}
	time.Sleep(clickSettleDelay)

	return &types.ToolResult{Success: true, Summary: "clicked " + loc.Selector, URL: e.currentURL(ctx)}
}

func (e *Executor) typeText(ctx context.Context, input map[string]any) *types.ToolResult {
	sel := strInput(input, "selector")
	backups := strSliceInput(input, "backupSelectors")
	text := strInput(input, "text")
	waitFor := time.Duration(intInput(input, "waitForElement")) * time.Millisecond

	if err := selector.ValidateSelector(sel); err != nil {
		return errResult("InvalidSelector", err.Error(), e.currentURL(ctx))
	}

	loc, err := e.locateTarget(ctx, sel, backups, waitFor)
	if err != nil {
		return e.notFoundResult(ctx, err)
	}

	focusScript := fmt.Sprintf(`(function(){const el=document.querySelector(%q); el.scrollIntoView({block:'center'}); el.focus();})()`, loc.Selector)
	var discard any
	if err := e.tab.EvalInPage(ctx, focusScript, &discard); err != nil {
		return e.classifyBrowserErr(ctx, err, "type")
	}

	if boolInput(input, "clearFirst") {
		if err := e.tab.DispatchKey(ctx, "a", 4 /* ctrl */, bcs.KeyDown); err == nil {
			_ = e.tab.DispatchKey(ctx, "a", 4, bcs.KeyUp)
		}
		_ = e.tab.DispatchKey(ctx, "Backspace", 0, bcs.KeyDown)
		_ = e.tab.DispatchKey(ctx, "Backspace", 0, bcs.KeyUp)
	}

	for _, r := range text {
		if err := e.tab.InsertText(ctx, string(r)); err != nil {
			return e.classifyBrowserErr(ctx, err, "type")
		}
		time.Sleep(keystrokeSpacing)
	}

	// update reactive framework state
	eventScript := fmt.Sprintf(`(function(){const el=document.querySelector(%q); el.dispatchEvent(new Event('input', {bubbles:true})); el.dispatchEvent(new Event('change', {bubbles:true}));})()`, loc.Selector)
	_ = e.tab.EvalInPage(ctx, eventScript, &discard)

	if boolInput(input, "pressEnter") {
		_ = e.tab.DispatchKey(ctx, "Enter", 0, bcs.KeyDown)
		_ = e.tab.DispatchKey(ctx, "Enter", 0, bcs.KeyUp)
	}

	return &types.ToolResult{Success: true, Summary: "typed into " + loc.Selector, URL: e.currentURL(ctx)}
}

func (e *Executor) selectOption(ctx context.Context, input map[string]any) *types.ToolResult {
	sel := strInput(input, "selector")
	waitFor := time.Duration(intInput(input, "waitForElement")) * time.Millisecond
	loc, err := e.locateTarget(ctx, sel, nil, waitFor)
	if err != nil {
		return e.notFoundResult(ctx, err)
	}

	value := strInput(input, "value")
	label := strInput(input, "label")
	index := intInput(input, "index")

	script := fmt.Sprintf(`(function(){
		const el = document.querySelector(%q);
		if (%q) { el.value = %q; }
		else if (%q) { for (const o of el.options) if (o.label === %q) { el.value = o.value; break; } }
		else { el.selectedIndex = %d; }
		el.dispatchEvent(new Event('change', {bubbles:true}));
		el.dispatchEvent(new Event('input', {bubbles:true}));
	})()`, loc.Selector, value, value, label, label, index)
	var discard any
	if err := e.tab.EvalInPage(ctx, script, &discard); err != nil {
		return e.classifyBrowserErr(ctx, err, "select")
	}
	return &types.ToolResult{Success: true, Summary: "set select " + loc.Selector, URL: e.currentURL(ctx)}
}

func (e *Executor) setCheckbox(ctx context.Context, input map[string]any) *types.ToolResult {
	return e.setBoolControl(ctx, input, "checkbox")
}

func (e *Executor) setRadio(ctx context.Context, input map[string]any) *types.ToolResult {
	return e.setBoolControl(ctx, input, "radio")
}

func (e *Executor) setBoolControl(ctx context.Context, input map[string]any, kind string) *types.ToolResult {
	sel := strInput(input, "selector")
	loc, err := e.locateTarget(ctx, sel, nil, 0)
	if err != nil {
		return e.notFoundResult(ctx, err)
	}
	checked := true
	if kind == "checkbox" {
		checked = boolInput(input, "checked")
	}
	script := fmt.Sprintf(`(function(){const el=document.querySelector(%q); el.checked=%v; el.dispatchEvent(new Event('change', {bubbles:true}));})()`, loc.Selector, checked)
	var discard any
	if err := e.tab.EvalInPage(ctx, script, &discard); err != nil {
		return e.classifyBrowserErr(ctx, err, kind)
	}
	return &types.ToolResult{Success: true, Summary: kind + " set on " + loc.Selector, URL: e.currentURL(ctx)}
}

func (e *Executor) wait(ctx context.Context, input map[string]any) *types.ToolResult {
	d := time.Duration(intInput(input, "duration_ms")) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	return &types.ToolResult{Success: true, URL: e.currentURL(ctx)} // infallible, per spec
}

func (e *Executor) waitForElement(ctx context.Context, input map[string]any) *types.ToolResult {
	sel := strInput(input, "selector")
	state := strInput(input, "state")
	timeout := 10 * time.Second
	if t := intInput(input, "timeout"); t > 0 {
		timeout = time.Duration(t) * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		matched, _, _, err := (tabLocator{e.tab}).Locate(ctx, sel)
		if err == nil {
			switch state {
			case "attached", "visible":
				if matched {
					return &types.ToolResult{Success: true, URL: e.currentURL(ctx)}
				}
			case "hidden":
				if !matched {
					return &types.ToolResult{Success: true, URL: e.currentURL(ctx)}
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errResult("Timeout", fmt.Sprintf("element %q did not reach state %q within %s", sel, state, timeout), e.currentURL(ctx))
}

func (e *Executor) keyPress(ctx context.Context, input map[string]any) *types.ToolResult {
	key := strInput(input, "key")
	_ = e.tab.DispatchKey(ctx, key, 0, bcs.KeyDown)
	_ = e.tab.DispatchKey(ctx, key, 0, bcs.KeyUp)
	return &types.ToolResult{Success: true, Summary: "pressed " + key, URL: e.currentURL(ctx)}
}

func (e *Executor) scroll(ctx context.Context, input map[string]any) *types.ToolResult {
	var script string
	if to := strInput(input, "toElement"); to != "" {
		script = fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(el) el.scrollIntoView({block:'center'});})()`, to)
	} else {
		amount := intInput(input, "amount")
		if amount == 0 {
			amount = 300
		}
		dx, dy := 0, amount
		if strInput(input, "direction") == "up" {
			dy = -amount
		}
		script = fmt.Sprintf(`window.scrollBy(%d, %d)`, dx, dy)
	}
	var discard any
	if err := e.tab.EvalInPage(ctx, script, &discard); err != nil {
		return e.classifyBrowserErr(ctx, err, "scroll")
	}
	return &types.ToolResult{Success: true, URL: e.currentURL(ctx)}
}

func (e *Executor) submit(ctx context.Context, input map[string]any) *types.ToolResult {
	formSel := strInput(input, "formSelector")
	btnSel := strInput(input, "submitButtonSelector")
	var script string
	if btnSel != "" {
		return e.click(ctx, map[string]any{"selector": btnSel})
	}
	if formSel == "" {
		formSel = "form"
	}
	script = fmt.Sprintf(`(function(){const f=document.querySelector(%q); if(f) f.requestSubmit ? f.requestSubmit() : f.submit();})()`, formSel)
	var discard any
	if err := e.tab.EvalInPage(ctx, script, &discard); err != nil {
		return e.classifyBrowserErr(ctx, err, "submit")
	}
	return &types.ToolResult{Success: true, Summary: "submitted " + formSel, URL: e.currentURL(ctx)}
}

func (e *Executor) extractContext(ctx context.Context, input map[string]any) *types.ToolResult {
	full := boolInput(input, "full")
	maxElements := intInput(input, "maxElements")
	if maxElements <= 0 {
		maxElements = 200
	}

	var pc *types.PageContext
	var err error
	if full {
		pc, err = pagecontext.ExtractFull(ctx, e.tab, maxElements)
	} else {
		var scroll *pagecontext.ScrollTarget
		if s := strInput(input, "scrollTo"); s != "" {
			scroll = &pagecontext.ScrollTarget{Mode: s}
		}
		pc, err = pagecontext.ExtractViewport(ctx, e.tab, maxElements, scroll)
	}
	if err != nil {
		return e.classifyBrowserErr(ctx, err, "extract_context")
	}
	return &types.ToolResult{Success: true, Value: pc, Summary: "extracted page context", URL: pc.URL}
}

const maxSnapshotDimension = 1568
const snapshotJPEGQuality = 85

func (e *Executor) takeSnapshot(ctx context.Context, input map[string]any) *types.ToolResult {
	if s := strInput(input, "scrollTo"); s != "" {
		_ = (&Executor{tab: e.tab}).scroll(ctx, map[string]any{"toElement": s})
	}
	data, err := e.tab.CaptureScreenshot(ctx, snapshotJPEGQuality, false)
	if err != nil {
		return e.classifyBrowserErr(ctx, err, "take_snapshot")
	}
	if resized, err := downscaleJPEG(data, maxSnapshotDimension, snapshotJPEGQuality); err != nil {
		logging.Warnf("take_snapshot: could not downscale to max dimension %d, returning original: %v", maxSnapshotDimension, err)
	} else {
		data = resized
	}
	return &types.ToolResult{Success: true, Value: data, Summary: "captured viewport snapshot", URL: e.currentURL(ctx)}
}

// downscaleJPEG re-encodes a JPEG so its longest edge is at most maxDim
// pixels (spec.md §4.5 "max dimension 1568 px"), leaving already-small
// images untouched.
func downscaleJPEG(data []byte, maxDim, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return data, nil
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode downscaled snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Executor) notFoundResult(ctx context.Context, err error) *types.ToolResult {
	if nf, ok := err.(*selector.NotFoundError); ok {
		return &types.ToolResult{
			Success: false,
			Error: &types.ToolErrorDetail{
				Code:        "TargetNotFound",
				Message:     nf.Error(),
				Suggestions: nf.Suggestions(),
			},
			URL: e.currentURL(ctx),
		}
	}
	return e.classifyBrowserErr(ctx, err, "locate")
}

func (e *Executor) classifyBrowserErr(ctx context.Context, err error, op string) *types.ToolResult {
	code := "ProtocolError"
	switch err.(type) {
	case *bcs.TimeoutError:
		code = "Timeout"
	}
	if err == bcs.ErrDetached {
		code = "ProtocolError"
	}
	return errResult(code, fmt.Sprintf("%s failed: %v", op, err), e.currentURL(ctx))
}
