package evaluator

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"strings"

	"golang.org/x/net/html"

	"pcagent/internal/logging"
)

// Visual comparison methods.
const (
	MethodSSIM   = "ssim"
	MethodMSE    = "mse"
	MethodHybrid = "hybrid"
)

// SSIM constants for 8-bit images.
var (
	ssimC1 = math.Pow(0.01*255, 2)
	ssimC2 = math.Pow(0.03*255, 2)
)

// UIElement describes an element expected in the page HTML. Empty
// fields are not matched on.
type UIElement struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"` // tag name or role attribute
}

// VisualChecker compares screenshots and inspects page HTML for
// expected elements.
type VisualChecker struct {
	method string
}

// NewVisualChecker creates a checker using the given comparison method
// (ssim, mse, hybrid).
func NewVisualChecker(method string) *VisualChecker {
	if method == "" {
		method = MethodHybrid
	}
	return &VisualChecker{method: method}
}

// Similarity compares two PNG screenshots with the configured method.
// Satisfies the reflection agent's screen comparator.
func (v *VisualChecker) Similarity(before, after []byte) (float64, error) {
	return v.CompareScreenshots(before, after, v.method)
}

// CompareScreenshots compares two PNG screenshots, returning similarity
// in [0,1]. Differing dimensions score 0 without error.
func (v *VisualChecker) CompareScreenshots(before, after []byte, method string) (float64, error) {
	a, err := decodeGray(before)
	if err != nil {
		return 0, fmt.Errorf("failed to decode first screenshot: %w", err)
	}
	b, err := decodeGray(after)
	if err != nil {
		return 0, fmt.Errorf("failed to decode second screenshot: %w", err)
	}

	if a.Bounds() != b.Bounds() {
		logging.EvaluatorDebug("screenshot dimensions differ: %v vs %v", a.Bounds(), b.Bounds())
		return 0, nil
	}

	switch method {
	case MethodSSIM:
		return ssim(a, b), nil
	case MethodMSE:
		return 1 - normalizedMSE(a, b), nil
	case MethodHybrid, "":
		return 0.7*ssim(a, b) + 0.3*(1-normalizedMSE(a, b)), nil
	default:
		return 0, fmt.Errorf("unknown visual method: %s", method)
	}
}

// CompareFiles compares two PNG files on disk.
func (v *VisualChecker) CompareFiles(pathA, pathB, method string) (float64, error) {
	a, err := os.ReadFile(pathA)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", pathA, err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", pathB, err)
	}
	return v.CompareScreenshots(a, b, method)
}

// CheckUIElements scores the fraction of expected elements present in
// the page HTML. No expectations means automatic success.
func (v *VisualChecker) CheckUIElements(pageHTML string, elements []UIElement) (float64, error) {
	if len(elements) == 0 {
		return 1.0, nil
	}

	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return 0, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	found := 0
	for _, want := range elements {
		if findElement(doc, want) {
			found++
		}
	}
	return float64(found) / float64(len(elements)), nil
}

// CheckWindowTitle reports whether the page title contains the expected
// substring (case-insensitive).
func (v *VisualChecker) CheckWindowTitle(pageHTML, expected string) (bool, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return false, fmt.Errorf("failed to parse page HTML: %w", err)
	}
	title := findTitle(doc)
	return strings.Contains(strings.ToLower(title), strings.ToLower(expected)), nil
}

// findElement walks the node tree for a match on id, role/tag, and text.
func findElement(n *html.Node, want UIElement) bool {
	if n.Type == html.ElementNode {
		if matchesElement(n, want) {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if findElement(c, want) {
			return true
		}
	}
	return false
}

func matchesElement(n *html.Node, want UIElement) bool {
	if want.ID != "" && attrValue(n, "id") != want.ID {
		return false
	}
	if want.Role != "" {
		if n.Data != want.Role && attrValue(n, "role") != want.Role {
			return false
		}
	}
	if want.Text != "" {
		if !strings.Contains(strings.ToLower(nodeText(n)), strings.ToLower(want.Text)) {
			return false
		}
	}
	return want.ID != "" || want.Role != "" || want.Text != ""
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return nodeText(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := findTitle(c); title != "" {
			return title
		}
	}
	return ""
}

// decodeGray decodes a PNG and converts it to grayscale.
func decodeGray(data []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray, nil
}

// normalizedMSE is mean squared error scaled into [0,1] by the maximum
// possible squared pixel difference.
func normalizedMSE(a, b *image.Gray) float64 {
	bounds := a.Bounds()
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			diff := float64(a.GrayAt(x, y).Y) - float64(b.GrayAt(x, y).Y)
			sum += diff * diff
		}
	}
	pixels := float64(bounds.Dx() * bounds.Dy())
	if pixels == 0 {
		return 1.0
	}
	return sum / pixels / (255 * 255)
}

// ssimWindow is the gaussian window size and sigma used by the standard
// SSIM formulation.
const (
	ssimWindowSize = 11
	ssimSigma      = 1.5
)

// ssim computes the mean structural similarity over an 11x11 gaussian
// window, cropping the border half-window as the reference
// implementation does.
func ssim(a, b *image.Gray) float64 {
	bounds := a.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < ssimWindowSize || h < ssimWindowSize {
		// Too small for windowed SSIM; fall back to inverse MSE.
		return 1 - normalizedMSE(a, b)
	}

	fa := grayToFloat(a)
	fb := grayToFloat(b)

	window := gaussianWindow(ssimWindowSize, ssimSigma)

	mu1 := filter2D(fa, w, h, window)
	mu2 := filter2D(fb, w, h, window)

	sqA := multiply(fa, fa)
	sqB := multiply(fb, fb)
	ab := multiply(fa, fb)

	sigma1 := filter2D(sqA, w, h, window)
	sigma2 := filter2D(sqB, w, h, window)
	sigma12 := filter2D(ab, w, h, window)

	half := ssimWindowSize / 2
	var total float64
	var count int
	for y := half; y < h-half; y++ {
		for x := half; x < w-half; x++ {
			i := y*w + x
			m1, m2 := mu1[i], mu2[i]
			m1sq, m2sq, m12 := m1*m1, m2*m2, m1*m2
			s1 := sigma1[i] - m1sq
			s2 := sigma2[i] - m2sq
			s12 := sigma12[i] - m12

			num := (2*m12 + ssimC1) * (2*s12 + ssimC2)
			den := (m1sq + m2sq + ssimC1) * (s1 + s2 + ssimC2)
			total += num / den
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func grayToFloat(img *image.Gray) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float64(img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
		}
	}
	return out
}

func multiply(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

// gaussianWindow is the normalized outer product of a 1D gaussian kernel.
func gaussianWindow(size int, sigma float64) []float64 {
	kernel := make([]float64, size)
	half := float64(size / 2)
	var sum float64
	for i := range kernel {
		x := float64(i) - half
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	window := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			window[y*size+x] = kernel[y] * kernel[x]
		}
	}
	return window
}

// filter2D convolves img (w×h) with the square window, replicating the
// border. Output has the same dimensions.
func filter2D(img []float64, w, h int, window []float64) []float64 {
	size := int(math.Sqrt(float64(len(window))))
	half := size / 2
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for ky := 0; ky < size; ky++ {
				for kx := 0; kx < size; kx++ {
					sy := clampInt(y+ky-half, 0, h-1)
					sx := clampInt(x+kx-half, 0, w-1)
					acc += img[sy*w+sx] * window[ky*size+kx]
				}
			}
			out[y*w+x] = acc
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
