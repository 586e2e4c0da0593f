// Package bcs implements the Browser Control Surface (spec.md §4.1): a thin,
// reference-counted abstraction over a Chrome DevTools Protocol debug
// channel, built on chromedp/cdproto the way the teacher's browser tool
// does (see DESIGN.md).
package bcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// WaitPolicy controls when navigate() is considered complete.
type WaitPolicy string

const (
	WaitLoad        WaitPolicy = "load"
	WaitDOMReady    WaitPolicy = "dom_ready"
	WaitNetworkIdle WaitPolicy = "network_idle"
)

// Typed errors per spec.md §4.1/§7.
var (
	ErrDetached = errors.New("bcs: tab detached")
)

// ProtocolError wraps a CDP transport failure.
type ProtocolError struct{ Err error }

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error  { return e.Err }

// TimeoutError indicates a bounded operation exceeded its budget.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %s", e.Op) }

// ConsoleEvent carries a console.log-style event (type + args), per spec §4.1.
type ConsoleEvent struct {
	Type string
	Args []string
}

// NavEvent carries a frame_navigated observation.
type NavEvent struct {
	URL   string
	Title string
}

// Subscriber receives BCS events. Any callback may be nil.
type Subscriber struct {
	OnConsole func(ConsoleEvent)
	OnNav     func(NavEvent)
	OnLoad    func()
}

// Tab is a reference-counted handle onto one browser tab/target. Its
// browser operations are serialized by the opMu mutex
// (spec.md §5 "per-tab ordering").
type Tab struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	refCount int
	closed   bool

	subMu sync.RWMutex
	subs  []*Subscriber

	opMu sync.Mutex // serializes eval/dispatch calls, per spec §5
}

// Surface owns the chromedp allocator and hands out Tabs.
type Surface struct {
	allocCtx context.Context
	cancel   context.CancelFunc

	mu   sync.Mutex
	tabs map[string]*Tab
}

// New creates a Surface. If cdpURL is non-empty, it attaches to an
// already-running browser instead of launching a new headless one
// (spec.md §6 "To the browser").
func New(cdpURL string) (*Surface, error) {
	var allocCtx context.Context
	var cancel context.CancelFunc

	if cdpURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &Surface{
		allocCtx: allocCtx,
		cancel:   cancel,
		tabs:     make(map[string]*Tab),
	}, nil
}

// Close tears down the allocator and every tab.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tabs {
		t.forceClose()
		delete(s.tabs, id)
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Attach idempotently creates (or re-references) the tab identified by id,
// bumping its reference count. Every caller (Recorder, Executor, Context
// Extractor) must pair an Attach with a Detach; only the last Detach truly
// tears the tab down (spec.md §5 "debugger attachment ... reference-counted").
func (s *Surface) Attach(id string) (*Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tabs[id]; ok && !t.closed {
		t.mu.Lock()
		t.refCount++
		t.mu.Unlock()
		return t, nil
	}

	ctx, cancel := chromedp.NewContext(s.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, &ProtocolError{Err: err}
	}

	t := &Tab{ctx: ctx, cancel: cancel, refCount: 1}
	t.listen()
	s.tabs[id] = t
	return t, nil
}

// Detach decrements the tab's reference count; at zero, the tab is closed.
func (s *Surface) Detach(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[id]
	if !ok {
		return nil
	}

	t.mu.Lock()
	t.refCount--
	shouldClose := t.refCount <= 0
	t.mu.Unlock()

	if shouldClose {
		t.forceClose()
		delete(s.tabs, id)
	}
	return nil
}

func (t *Tab) forceClose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
}

// Subscribe registers a Subscriber for frame_navigated / load_event_fired /
// console_api_called events (spec.md §4.1).
func (t *Tab) Subscribe(sub *Subscriber) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subs = append(t.subs, sub)
}

func (t *Tab) listen() {
	chromedp.ListenTarget(t.ctx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			t.subMu.RLock()
			for _, s := range t.subs {
				if s.OnNav != nil {
					s.OnNav(NavEvent{URL: e.Frame.URL})
				}
			}
			t.subMu.RUnlock()
		case *page.EventLoadEventFired:
			t.subMu.RLock()
			for _, s := range t.subs {
				if s.OnLoad != nil {
					s.OnLoad()
				}
			}
			t.subMu.RUnlock()
		case *runtime.EventConsoleAPICalled:
			args := make([]string, 0, len(e.Args))
			for _, a := range e.Args {
				var s string
				if json.Unmarshal(a.Value, &s) == nil {
					args = append(args, s)
				} else {
					args = append(args, string(a.Value))
				}
			}
			t.subMu.RLock()
			for _, s := range t.subs {
				if s.OnConsole != nil {
					s.OnConsole(ConsoleEvent{Type: string(e.Type), Args: args})
				}
			}
			t.subMu.RUnlock()
		}
	})
}

func (t *Tab) guard() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrDetached
	}
	return nil
}

// Navigate loads url, waiting per the given policy (spec.md §4.1).
func (t *Tab) Navigate(ctx context.Context, url string, policy WaitPolicy, timeout time.Duration) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	_ = ctx

	var actions []chromedp.Action
	actions = append(actions, chromedp.Navigate(url))
	switch policy {
	case WaitNetworkIdle:
		actions = append(actions, chromedp.Sleep(500*time.Millisecond))
	case WaitDOMReady:
		// chromedp.Navigate already waits for DOMContentLoaded
	default: // WaitLoad
		actions = append(actions, chromedp.WaitReady("body"))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Op: "navigate"}
		}
		return &ProtocolError{Err: err}
	}
	return nil
}

// MouseAction is the kind of mouse dispatch (spec.md §4.1).
type MouseAction string

const (
	MousePress   MouseAction = "press"
	MouseRelease MouseAction = "release"
	MouseMove    MouseAction = "move"
)

// DispatchMouse dispatches a synthetic mouse event at (x, y).
func (t *Tab) DispatchMouse(ctx context.Context, x, y float64, action MouseAction, button string, clickCount int) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var evType input.MouseType
	switch action {
	case MousePress:
		evType = input.MousePressed
	case MouseRelease:
		evType = input.MouseReleased
	default:
		evType = input.MouseMoved
	}

	btn := input.ButtonLeft
	if button == "right" {
		btn = input.ButtonRight
	} else if button == "middle" {
		btn = input.ButtonMiddle
	}

	ev := input.DispatchMouseEvent(evType, x, y).
		WithButton(btn).
		WithClickCount(int64(clickCount))

	if err := chromedp.Run(t.ctx, ev); err != nil {
		return &ProtocolError{Err: err}
	}
	return nil
}

// KeyAction is press/release for DispatchKey.
type KeyAction string

const (
	KeyDown KeyAction = "key_down"
	KeyUp   KeyAction = "key_up"
)

// DispatchKey dispatches a synthetic key event.
func (t *Tab) DispatchKey(ctx context.Context, key string, modifiers int64, action KeyAction) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	evType := input.KeyDown
	if action == KeyUp {
		evType = input.KeyUp
	}
	ev := input.DispatchKeyEvent(evType).WithKey(key).WithModifiers(input.Modifier(modifiers))
	if err := chromedp.Run(t.ctx, ev); err != nil {
		return &ProtocolError{Err: err}
	}
	return nil
}

// InsertText dispatches an insertText command (IME-safe text entry).
func (t *Tab) InsertText(ctx context.Context, chars string) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := chromedp.Run(t.ctx, input.InsertText(chars)); err != nil {
		return &ProtocolError{Err: err}
	}
	return nil
}

// EvalInPage runs script and unmarshals the JSON result into out.
func (t *Tab) EvalInPage(ctx context.Context, script string, out any) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := chromedp.Run(t.ctx, chromedp.Evaluate(script, out)); err != nil {
		return &ProtocolError{Err: err}
	}
	return nil
}

// QuerySelector resolves selector against the whole document (root is not
// used) and returns the first matching node id, or false if not found.
func (t *Tab) QuerySelector(ctx context.Context, root cdp.NodeID, selector string) (cdp.NodeID, bool, error) {
	if err := t.guard(); err != nil {
		return 0, false, err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var nodeIDs []cdp.NodeID
	err := chromedp.Run(t.ctx, chromedp.NodeIDs(selector, &nodeIDs, chromedp.ByQuery))
	if err != nil {
		return 0, false, &ProtocolError{Err: err}
	}
	if len(nodeIDs) == 0 {
		return 0, false, nil
	}
	return nodeIDs[0], true, nil
}

// GetBoxModel returns the quad for a node.
func (t *Tab) GetBoxModel(ctx context.Context, nodeID cdp.NodeID) (*dom.BoxModel, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var box *dom.BoxModel
	err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		box, err = dom.GetBoxModel().WithNodeID(nodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return box, nil
}

// GetDocument returns the root document node.
func (t *Tab) GetDocument(ctx context.Context) (*cdp.Node, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var doc *cdp.Node
	err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		doc, err = dom.GetDocument().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return doc, nil
}

// CaptureScreenshot captures the current viewport (or full page) as a JPEG
// at quality (0-100). Unlike chromedp's CaptureScreenshot helper, which
// always returns PNG and ignores quality, this issues the raw CDP command
// directly so the format/quality the caller asked for is actually honored
// (spec.md §4.5 "JPEG quality 85").
func (t *Tab) CaptureScreenshot(ctx context.Context, quality int, fullPage bool) ([]byte, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var buf []byte
	act := chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			WithCaptureBeyondViewport(fullPage).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := chromedp.Run(t.ctx, act); err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return buf, nil
}
