package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// BrowserDriver performs actions against a Chromium page over the
// DevTools protocol.
type BrowserDriver struct {
	browser *rod.Browser
	page    *rod.Page
	cleanup func()
}

// NewBrowserDriver connects to a running browser at controlURL, or
// launches a fresh one when the URL is empty.
func NewBrowserDriver(ctx context.Context, controlURL string, headless bool) (*BrowserDriver, error) {
	var cleanup func()
	if controlURL == "" {
		l := launcher.New().Headless(headless)
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = url
		cleanup = l.Cleanup
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	logging.Driver("browser connected at %s", controlURL)
	return &BrowserDriver{browser: browser, page: page, cleanup: cleanup}, nil
}

// Navigate loads a URL and waits for the page to settle.
func (d *BrowserDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return page.WaitLoad()
}

// Perform executes one GUI action on the page.
func (d *BrowserDriver) Perform(ctx context.Context, action types.Action) (types.ActionResult, error) {
	start := time.Now()

	result := types.ActionResult{Action: action}
	if err := action.Validate(); err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}

	page := d.page.Context(ctx)
	var err error
	switch action.Type {
	case types.ActionClick:
		err = d.clickAt(page, action.Parameters, 1)
	case types.ActionDoubleClick:
		err = d.clickAt(page, action.Parameters, 2)
	case types.ActionTypeText:
		err = page.InsertText(action.Parameters["text"])
	case types.ActionSelect:
		err = d.selectElement(page, action.Parameters["target"])
	case types.ActionDrag:
		err = d.drag(page, action.Parameters)
	case types.ActionScroll:
		err = d.scroll(page, action.Parameters)
	case types.ActionShortcut:
		err = d.shortcut(page, action.Parameters["keys"])
	case types.ActionStop:
		// Nothing to do.
	default:
		err = fmt.Errorf("unsupported action type: %s", action.Type)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		logging.Driver("action %s failed: %v", action.Type, err)
		return result, nil
	}
	result.Success = true
	result.Output = string(action.Type) + " ok"
	logging.DriverDebug("action %s in %v", action.Type, result.Duration)
	return result, nil
}

func (d *BrowserDriver) clickAt(page *rod.Page, params map[string]string, clicks int) error {
	x, err := parseCoord(params, "x")
	if err != nil {
		return err
	}
	y, err := parseCoord(params, "y")
	if err != nil {
		return err
	}
	if err := page.Mouse.MoveTo(proto.NewPoint(float64(x), float64(y))); err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, clicks)
}

func (d *BrowserDriver) selectElement(page *rod.Page, target string) error {
	el, err := page.Element(target)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", target, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *BrowserDriver) drag(page *rod.Page, params map[string]string) error {
	fromX, err := parseCoord(params, "from_x")
	if err != nil {
		return err
	}
	fromY, err := parseCoord(params, "from_y")
	if err != nil {
		return err
	}
	toX, err := parseCoord(params, "to_x")
	if err != nil {
		return err
	}
	toY, err := parseCoord(params, "to_y")
	if err != nil {
		return err
	}

	if err := page.Mouse.MoveTo(proto.NewPoint(float64(fromX), float64(fromY))); err != nil {
		return err
	}
	if err := page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := page.Mouse.MoveTo(proto.NewPoint(float64(toX), float64(toY))); err != nil {
		return err
	}
	return page.Mouse.Up(proto.InputMouseButtonLeft, 1)
}

func (d *BrowserDriver) scroll(page *rod.Page, params map[string]string) error {
	amount, err := strconv.Atoi(strings.TrimSpace(params["amount"]))
	if err != nil {
		return fmt.Errorf("bad scroll amount %q", params["amount"])
	}
	var dx, dy float64
	switch strings.ToLower(params["direction"]) {
	case "down":
		dy = float64(amount)
	case "up":
		dy = -float64(amount)
	case "right":
		dx = float64(amount)
	case "left":
		dx = -float64(amount)
	default:
		return fmt.Errorf("bad scroll direction %q", params["direction"])
	}
	return page.Mouse.Scroll(dx, dy, 1)
}

// shortcut presses a key combination like "ctrl+shift+s".
func (d *BrowserDriver) shortcut(page *rod.Page, combo string) error {
	parts := strings.Split(combo, "+")
	keys := make([]input.Key, 0, len(parts))
	for _, part := range parts {
		key, err := lookupKey(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return fmt.Errorf("empty shortcut")
	}

	actions := page.KeyActions()
	if len(keys) > 1 {
		actions = actions.Press(keys[:len(keys)-1]...)
	}
	return actions.Type(keys[len(keys)-1]).Do()
}

var namedKeys = map[string]input.Key{
	"ctrl":      input.ControlLeft,
	"control":   input.ControlLeft,
	"alt":       input.AltLeft,
	"shift":     input.ShiftLeft,
	"meta":      input.MetaLeft,
	"cmd":       input.MetaLeft,
	"win":       input.MetaLeft,
	"enter":     input.Enter,
	"return":    input.Enter,
	"tab":       input.Tab,
	"esc":       input.Escape,
	"escape":    input.Escape,
	"space":     input.Space,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"home":      input.Home,
	"end":       input.End,
	"pageup":    input.PageUp,
	"pagedown":  input.PageDown,
	"up":        input.ArrowUp,
	"down":      input.ArrowDown,
	"left":      input.ArrowLeft,
	"right":     input.ArrowRight,
}

func lookupKey(name string) (input.Key, error) {
	if key, ok := namedKeys[strings.ToLower(name)]; ok {
		return key, nil
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(unicode.ToLower(runes[0])), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// Screenshot captures the visible viewport as a PNG.
func (d *BrowserDriver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

// PageHTML returns the current page markup.
func (d *BrowserDriver) PageHTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// Close shuts the page and browser down.
func (d *BrowserDriver) Close() error {
	var err error
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
	return err
}
