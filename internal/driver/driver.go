// Package driver executes GUI actions. The simulated driver runs
// deterministic in-memory actions for tests and dry runs; the browser
// driver performs them against a real Chromium page over the DevTools
// protocol.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"pcagent/internal/config"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// Driver performs GUI actions and exposes the resulting screen state.
type Driver interface {
	// Perform executes one action. A failed action returns a result with
	// Success false; the error is reserved for driver-level faults.
	Perform(ctx context.Context, action types.Action) (types.ActionResult, error)

	// Screenshot captures the current screen as a PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// PageHTML returns the current page markup, when the driver has one.
	PageHTML(ctx context.Context) (string, error)

	Close() error
}

// New selects a driver from the execution config.
func New(ctx context.Context, cfg *config.Config) (Driver, error) {
	switch cfg.Execution.Driver {
	case "browser":
		return NewBrowserDriver(ctx, cfg.Execution.BrowserURL, cfg.Execution.Headless)
	case "simulated", "":
		return NewSimulatedDriver(cfg.GetSimulatedLatency(), 0), nil
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Execution.Driver)
	}
}

// SimulatedDriver executes actions against an in-memory screen model.
// Given the same seed and action sequence it produces identical output.
type SimulatedDriver struct {
	latency time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	steps   int
	typed   []string
	title   string
	focus   string
	actions []types.ActionResult
}

// NewSimulatedDriver creates a simulated driver. Seed 0 selects a fixed
// default seed.
func NewSimulatedDriver(latency time.Duration, seed int64) *SimulatedDriver {
	if seed == 0 {
		seed = 1
	}
	return &SimulatedDriver{
		latency: latency,
		rng:     rand.New(rand.NewSource(seed)),
		title:   "Desktop",
	}
}

// Perform applies the action to the screen model.
func (d *SimulatedDriver) Perform(ctx context.Context, action types.Action) (types.ActionResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return types.ActionResult{}, err
	}
	if d.latency > 0 {
		d.mu.Lock()
		// Jitter up to 20% so simulated timings are not perfectly flat.
		delay := d.latency + time.Duration(d.rng.Int63n(int64(d.latency)/5+1))
		d.mu.Unlock()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.ActionResult{}, ctx.Err()
		}
	}

	result := types.ActionResult{Action: action}
	if err := action.Validate(); err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		d.record(result)
		return result, nil
	}

	d.mu.Lock()
	d.steps++
	switch action.Type {
	case types.ActionClick, types.ActionDoubleClick:
		d.focus = fmt.Sprintf("(%s,%s)", action.Parameters["x"], action.Parameters["y"])
		result.Output = "clicked at " + d.focus
	case types.ActionTypeText:
		text := action.Parameters["text"]
		d.typed = append(d.typed, text)
		result.Output = fmt.Sprintf("typed %d characters", len(text))
	case types.ActionSelect:
		d.focus = action.Parameters["target"]
		result.Output = "selected " + d.focus
	case types.ActionDrag:
		result.Output = fmt.Sprintf("dragged (%s,%s) to (%s,%s)",
			action.Parameters["from_x"], action.Parameters["from_y"],
			action.Parameters["to_x"], action.Parameters["to_y"])
	case types.ActionScroll:
		result.Output = fmt.Sprintf("scrolled %s by %s",
			action.Parameters["direction"], action.Parameters["amount"])
	case types.ActionShortcut:
		keys := action.Parameters["keys"]
		if strings.EqualFold(keys, "ctrl+s") {
			d.title = strings.TrimSuffix(d.title, " *")
		}
		result.Output = "pressed " + keys
	case types.ActionStop:
		result.Output = "stopped"
	}
	result.Success = true
	result.Duration = time.Since(start)
	d.mu.Unlock()

	d.record(result)
	logging.DriverDebug("simulated %s: %s", action.Type, result.Output)
	return result, nil
}

func (d *SimulatedDriver) record(result types.ActionResult) {
	d.mu.Lock()
	d.actions = append(d.actions, result)
	d.mu.Unlock()
}

// Actions returns every action performed so far.
func (d *SimulatedDriver) Actions() []types.ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.ActionResult, len(d.actions))
	copy(out, d.actions)
	return out
}

// Screenshot renders the screen model as a small PNG. The pixels depend
// on the step counter, so screenshots before and after an action differ.
func (d *SimulatedDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	steps := d.steps
	d.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y*3 + steps*17) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// PageHTML renders the screen model as a minimal page, including any
// typed text so evaluators can check it.
func (d *SimulatedDriver) PageHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "<html><head><title>%s</title></head><body>", d.title)
	if d.focus != "" {
		fmt.Fprintf(&sb, `<div id="focus">%s</div>`, d.focus)
	}
	for i, text := range d.typed {
		fmt.Fprintf(&sb, `<p id="typed-%d">%s</p>`, i, text)
	}
	sb.WriteString("</body></html>")
	return sb.String(), nil
}

// SetTitle sets the simulated window title.
func (d *SimulatedDriver) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
}

func (d *SimulatedDriver) Close() error {
	return nil
}

// parseCoord reads an integer action parameter.
func parseCoord(params map[string]string, key string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(params[key]))
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %s=%q", key, params[key])
	}
	return v, nil
}
