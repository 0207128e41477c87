package evaluator

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// solidPNG encodes a width x height grayscale PNG of one shade.
func solidPNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// gradientPNG encodes an image whose shade varies by position, so SSIM
// has real structure to compare.
func gradientPNG(t *testing.T, w, h int, offset uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7+y*3)%200) + offset})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIdenticalScreenshots(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)
	img := gradientPNG(t, 32, 32, 0)

	for _, method := range []string{MethodSSIM, MethodMSE, MethodHybrid} {
		got, err := v.CompareScreenshots(img, img, method)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if math.Abs(got-1.0) > 1e-6 {
			t.Errorf("%s on identical images = %v, want 1.0", method, got)
		}
	}
}

func TestDissimilarScreenshots(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)
	black := solidPNG(t, 32, 32, 0)
	white := solidPNG(t, 32, 32, 255)

	got, err := v.CompareScreenshots(black, white, MethodMSE)
	if err != nil {
		t.Fatal(err)
	}
	if got > 1e-6 {
		t.Errorf("MSE black vs white = %v, want ~0", got)
	}

	hybrid, err := v.CompareScreenshots(black, white, MethodHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if hybrid > 0.1 {
		t.Errorf("hybrid black vs white = %v, want near 0", hybrid)
	}
}

func TestMethodOrdering(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)
	base := gradientPNG(t, 32, 32, 0)
	near := gradientPNG(t, 32, 32, 10)
	far := solidPNG(t, 32, 32, 255)

	nearScore, err := v.CompareScreenshots(base, near, MethodHybrid)
	if err != nil {
		t.Fatal(err)
	}
	farScore, err := v.CompareScreenshots(base, far, MethodHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if nearScore <= farScore {
		t.Errorf("similar pair (%v) should outscore dissimilar pair (%v)", nearScore, farScore)
	}
}

func TestDimensionMismatch(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)
	got, err := v.CompareScreenshots(solidPNG(t, 16, 16, 128), solidPNG(t, 32, 32, 128), MethodSSIM)
	if err != nil {
		t.Fatalf("dimension mismatch should not error: %v", err)
	}
	if got != 0 {
		t.Errorf("mismatched dimensions = %v, want 0", got)
	}
}

func TestBadScreenshotData(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)
	if _, err := v.CompareScreenshots([]byte("not a png"), solidPNG(t, 8, 8, 0), MethodSSIM); err == nil {
		t.Error("garbage input should error")
	}
	if _, err := v.CompareScreenshots(solidPNG(t, 8, 8, 0), solidPNG(t, 8, 8, 0), "histogram"); err == nil {
		t.Error("unknown method should error")
	}
}

const samplePage = `<html><head><title>Inbox - Mail</title></head><body>
<button id="send-btn">Send</button>
<input id="to-field" role="textbox">
<div class="toolbar"><a href="/archive">Archive</a></div>
</body></html>`

func TestCheckUIElements(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)

	tests := []struct {
		name     string
		elements []UIElement
		want     float64
	}{
		{"none expected", nil, 1.0},
		{"by id", []UIElement{{ID: "send-btn"}}, 1.0},
		{"by text", []UIElement{{Text: "Archive"}}, 1.0},
		{"by role attr", []UIElement{{Role: "textbox"}}, 1.0},
		{"by tag", []UIElement{{Role: "button", Text: "Send"}}, 1.0},
		{"missing id", []UIElement{{ID: "cancel-btn"}}, 0.0},
		{"half present", []UIElement{{ID: "send-btn"}, {ID: "cancel-btn"}}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.CheckUIElements(samplePage, tt.elements)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckWindowTitle(t *testing.T) {
	v := NewVisualChecker(MethodHybrid)

	ok, err := v.CheckWindowTitle(samplePage, "inbox")
	if err != nil || !ok {
		t.Errorf("title should contain inbox: ok=%v err=%v", ok, err)
	}
	ok, err = v.CheckWindowTitle(samplePage, "Settings")
	if err != nil || ok {
		t.Errorf("title should not contain Settings: ok=%v err=%v", ok, err)
	}
}
