// Package recorder implements the Recorder (spec.md §4.4): in-page event
// hooks that emit structured actions, correlated with navigation/file-dialog
// events, with multi-tab continuity and bounded capture.
//
// Redirect recording (spec.md §9 open question): every frame_navigated event
// whose URL is not noise is recorded at once as a navigate action carrying
// that URL (no title). HTTP-level redirects fire no frame_navigated for their
// intermediate hops, so those hops are not recorded. This is the stable,
// documented choice for an otherwise implementation-defined behavior.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/selector"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// MaxActionsReachedEvent signals recording stopped early (spec.md §4.4, §8 property 9).
type MaxActionsReachedEvent struct{ SessionID string }

// Events is the observer surface a Recorder emits to (spec.md §6).
type Events interface {
	OnActionCaptured(action types.RecordedAction)
	OnMaxActionsReached(MaxActionsReachedEvent)
	OnStopped(session types.RecordingSession)
}

// noisyURLPatterns are navigation URLs ignored as recording noise (spec.md §4.4).
var noisyURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^data:`),
	regexp.MustCompile(`^about:`),
	regexp.MustCompile(`/log\?`),
}

func isNoisyURL(url string) bool {
	for _, p := range noisyURLPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// observerScript is injected once per document (gated by a window
// sentinel) when recording starts and after every load event (spec.md §4.4). It
// emits JSON-encoded actions via console.debug with a well-known prefix so
// the outer Recorder can decode them from the console-API channel.
const sentinelPrefix = "__WAYFARER_ACTION__:"

const observerScript = `(function(){
  if (window.__wayfarerRecorderInstalled) return;
  window.__wayfarerRecorderInstalled = true;

  function emit(kind, detail) {
    try { console.debug('` + sentinelPrefix + `' + JSON.stringify(Object.assign({kind: kind}, detail))); } catch (e) {}
  }

  function nearestInteractive(el) {
    let n = el, depth = 0;
    while (n && depth <= 5) {
      const tag = n.tagName ? n.tagName.toLowerCase() : '';
      if (['button','a','input','textarea','select'].includes(tag) || n.getAttribute && n.getAttribute('role')) return n;
      n = n.parentElement; depth++;
    }
    return el;
  }

  function classList(el) {
    return el.className && typeof el.className === 'string' ? el.className.split(/\s+/).filter(Boolean) : [];
  }

  function describeElement(el) {
    if (!el || el.nodeType !== 1) return {};
    const rect = el.getBoundingClientRect();
    const attrs = {};
    for (let i = 0; i < el.attributes.length; i++) {
      const a = el.attributes[i];
      if (a.name !== 'class') attrs[a.name] = a.value;
    }
    const parentPath = [];
    let p = el.parentElement, depth = 0;
    while (p && depth < 5) {
      parentPath.push({tag: p.tagName.toLowerCase(), classes: classList(p)});
      p = p.parentElement; depth++;
    }
    return {
      tag: el.tagName ? el.tagName.toLowerCase() : '',
      id: el.id || '',
      classes: classList(el),
      attributes: attrs,
      text: (el.innerText || el.textContent || '').trim().slice(0, 200),
      boundingBox: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
      disabled: !!el.disabled,
      parentPath: parentPath
    };
  }

  document.addEventListener('click', function(e) {
    const target = nearestInteractive(e.target);
    if (target && target.tagName === 'INPUT' && target.type === 'file') {
      e.preventDefault();
      emit('file-dialog-intercepted', {selector: target.id ? '#'+target.id : target.tagName.toLowerCase()});
      return;
    }
    emit('click', Object.assign({x: e.clientX, y: e.clientY}, describeElement(target)));
  }, true);

  let inputTimers = new WeakMap();
  document.addEventListener('input', function(e) {
    const el = e.target;
    const immediate = ['checkbox','radio','file','range','color'].includes(el.type);
    const isRich = el.isContentEditable;
    if (immediate) {
      emit('input', {tag: el.tagName.toLowerCase(), value: el.value, immediate: true});
      return;
    }
    if (inputTimers.has(el)) clearTimeout(inputTimers.get(el));
    const t = setTimeout(function() {
      emit('input', {tag: el.tagName.toLowerCase(), value: isRich ? el.innerText : el.value, contentEditable: isRich});
    }, 3000);
    inputTimers.set(el, t);
  }, true);

  document.addEventListener('blur', function(e) {
    if (inputTimers.has(e.target)) {
      clearTimeout(inputTimers.get(e.target));
      emit('input', {tag: e.target.tagName ? e.target.tagName.toLowerCase() : '', value: e.target.value, flushed: true});
    }
  }, true);

  document.addEventListener('change', function(e) {
    const el = e.target;
    const tag = el.tagName ? el.tagName.toLowerCase() : '';
    if (tag === 'select') emit('select', {multiple: el.multiple, value: el.multiple ? Array.from(el.selectedOptions).map(o=>o.value) : el.value});
    else if (el.type === 'checkbox') emit('checkbox', {checked: el.checked});
    else if (el.type === 'radio') emit('radio', {checked: el.checked, value: el.value});
  }, true);

  document.addEventListener('submit', function(e) {
    emit('submit', {});
  }, true);

  document.addEventListener('keydown', function(e) {
    const notable = ['Enter','Escape','Tab','ArrowUp','ArrowDown','ArrowLeft','ArrowRight','Home','End','PageUp','PageDown'];
    if (notable.includes(e.key) || e.ctrlKey || e.metaKey || e.altKey) {
      emit('keypress', {key: e.key, ctrl: e.ctrlKey, meta: e.metaKey, alt: e.altKey});
    }
  }, true);
})();`

// Recorder owns one active recording session.
type Recorder struct {
	mu          sync.Mutex
	surface     *bcs.Surface
	tab         *bcs.Tab
	tabID       string
	events      Events
	session     types.RecordingSession
	maxActions  int
	startedAt   time.Time
	tabStats    map[string]*types.TabStats
	pendingFile *fileDialogWait
}

type fileDialogWait struct {
	selector  string
	deadline  time.Time
}

// New creates a Recorder bound to surface with a hard action cap (spec.md
// §4.4 "Bounded capture"); Start picks the tab and starting URL.
func New(surface *bcs.Surface, events Events, maxActions int) *Recorder {
	if maxActions <= 0 {
		maxActions = 500
	}
	return &Recorder{
		surface:    surface,
		events:     events,
		maxActions: maxActions,
		tabStats:   make(map[string]*types.TabStats),
	}
}

// Start begins recording on tabID at startURL.
func (r *Recorder) Start(ctx context.Context, tabID, startURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = types.RecordingSession{
		ID:        uuid.NewString(),
		StartURL:  startURL,
		CreatedAt: time.Now(),
	}
	r.startedAt = time.Now()
	r.tabID = tabID

	tab, err := r.surface.Attach(tabID)
	if err != nil {
		return fmt.Errorf("attach recorder tab: %w", err)
	}
	r.tab = tab
	r.bindTab(tab, tabID)
	return r.inject(ctx)
}

func (r *Recorder) bindTab(tab *bcs.Tab, tabID string) {
	tab.Subscribe(&bcs.Subscriber{
		OnConsole: func(ev bcs.ConsoleEvent) {
			for _, arg := range ev.Args {
				if strings.HasPrefix(arg, sentinelPrefix) {
					r.handleEmitted(tabID, strings.TrimPrefix(arg, sentinelPrefix))
				}
			}
		},
		OnNav: func(ev bcs.NavEvent) {
			if isNoisyURL(ev.URL) {
				return
			}
			r.recordAction(types.RecordedAction{
				Kind:   types.ActionNavigate,
				TabID:  tabID,
				TabURL: ev.URL,
			})
		},
		OnLoad: func() {
			_ = r.inject(context.Background())
		},
	})
}

func (r *Recorder) inject(ctx context.Context) error {
	var discard any
	return r.tab.EvalInPage(ctx, observerScript, &discard)
}

type emittedParent struct {
	Tag     string   `json:"tag"`
	Classes []string `json:"classes"`
}

type emittedAction struct {
	Kind        string          `json:"kind"`
	Tag         string          `json:"tag"`
	Value       any             `json:"value"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Selector    string          `json:"selector"`
	Key         string          `json:"key"`
	ID          string          `json:"id"`
	Classes     []string        `json:"classes"`
	Attributes  map[string]string `json:"attributes"`
	Text        string          `json:"text"`
	BoundingBox types.BoundingBox `json:"boundingBox"`
	Disabled    bool            `json:"disabled"`
	ParentPath  []emittedParent `json:"parentPath"`
}

// elementTarget turns the raw element description the observer script
// emitted into a types.ElementTarget via the Selector Engine, so a recorded
// click can be replayed against the live DOM later (spec.md §4.4 "emits a
// click action with ElementTarget").
func (ea emittedAction) elementTarget() *types.ElementTarget {
	if ea.Tag == "" {
		return nil
	}
	info := selector.ElementInfo{
		Tag:        ea.Tag,
		ID:         ea.ID,
		Classes:    ea.Classes,
		Attributes: ea.Attributes,
		Text:       ea.Text,
	}
	for _, p := range ea.ParentPath {
		info.ParentPath = append(info.ParentPath, selector.ElementInfo{Tag: p.Tag, Classes: p.Classes})
	}
	parentSelector := ""
	if len(ea.ParentPath) > 0 {
		parentSelector = ea.ParentPath[0].Tag
	}
	target := selector.BuildTarget(info, ea.BoundingBox, parentSelector, ea.Disabled)
	return &target
}

func (r *Recorder) handleEmitted(tabID, payload string) {
	var ea emittedAction
	if err := json.Unmarshal([]byte(payload), &ea); err != nil {
		return
	}

	if ea.Kind == "file-dialog-intercepted" {
		r.mu.Lock()
		r.pendingFile = &fileDialogWait{selector: ea.Selector, deadline: time.Now().Add(30 * time.Second)}
		r.mu.Unlock()
		return
	}

	kind := types.ActionKind(ea.Kind)
	action := types.RecordedAction{
		Kind:  kind,
		TabID: tabID,
		Value: ea.Value,
	}
	if kind == types.ActionClick {
		action.Target = ea.elementTarget()
	}
	r.recordAction(action)
}

// recordAction appends action with a monotonic timestamp, enforcing
// MAX_ACTIONS (spec.md §8 property 9).
func (r *Recorder) recordAction(action types.RecordedAction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.session.Actions) >= r.maxActions {
		r.events.OnMaxActionsReached(MaxActionsReachedEvent{SessionID: r.session.ID})
		return
	}

	now := time.Now()
	ts := now.Sub(r.startedAt).Milliseconds()
	if n := len(r.session.Actions); n > 0 && ts < r.session.Actions[n-1].TimestampMS {
		ts = r.session.Actions[n-1].TimestampMS // enforce non-decreasing (spec.md §8 property 2)
	}
	action.TimestampMS = ts

	r.session.Actions = append(r.session.Actions, action)
	r.touchTabStats(action.TabID, now)
	r.events.OnActionCaptured(action)

	if r.pendingFile != nil && now.After(r.pendingFile.deadline) {
		r.pendingFile = nil // abandon stale file-dialog correlation
	}
}

func (r *Recorder) touchTabStats(tabID string, at time.Time) {
	if tabID == "" {
		return
	}
	st, ok := r.tabStats[tabID]
	if !ok {
		st = &types.TabStats{TabID: tabID, FirstActiveAt: at}
		r.tabStats[tabID] = st
	}
	st.LastActiveAt = at
	st.ActionCount++
}

// Switch re-attaches the recorder to newTab, re-injects the observer
// script, and emits a synthetic tab-switch action (spec.md §4.4
// "Multi-tab continuity").
func (r *Recorder) Switch(ctx context.Context, newTab string) error {
	r.mu.Lock()
	fromTab := r.tabID
	r.mu.Unlock()

	tab, err := r.surface.Attach(newTab)
	if err != nil {
		return fmt.Errorf("attach new tab: %w", err)
	}

	r.mu.Lock()
	oldTabID := r.tabID
	r.tab = tab
	r.tabID = newTab
	r.session.TabSwitchCount++
	r.mu.Unlock()

	r.bindTab(tab, newTab)
	if err := r.inject(ctx); err != nil {
		return err
	}

	r.recordAction(types.RecordedAction{
		Kind:  types.ActionTabSwitch,
		TabID: newTab,
		Effects: map[string]any{
			"from_tab": fromTab,
			"to_tab":   newTab,
		},
	})

	if oldTabID != "" {
		_ = r.surface.Detach(oldTabID)
	}
	return nil
}

// Stop finalizes the recording session and notifies events.
func (r *Recorder) Stop() types.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session.DurationMS = time.Since(r.startedAt).Milliseconds()
	for id, st := range r.tabStats {
		r.session.Tabs = append(r.session.Tabs, types.RecordingTab{TabID: id})
		_ = st
	}
	if r.tab != nil {
		_ = r.surface.Detach(r.tabID)
		r.tab = nil
	}
	r.events.OnStopped(r.session)
	return r.session
}

// TabStats returns a copy of the per-tab statistics collected so far.
func (r *Recorder) TabStats() map[string]types.TabStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.TabStats, len(r.tabStats))
	for k, v := range r.tabStats {
		out[k] = *v
	}
	return out
}
