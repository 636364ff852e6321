package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestScaledDimensions(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{800, 600, 1600, 800, 600},
		{3200, 2400, 1600, 1600, 1200},
		{2400, 3200, 1600, 1200, 1600},
		{1600, 1600, 1600, 1600, 1600},
		{10000, 2, 100, 100, 1},
	}
	for _, tt := range tests {
		gw, gh := scaledDimensions(tt.w, tt.h, tt.max)
		if gw != tt.wantW || gh != tt.wantH {
			t.Errorf("scaledDimensions(%d, %d, %d) = %d x %d, want %d x %d",
				tt.w, tt.h, tt.max, gw, gh, tt.wantW, tt.wantH)
		}
	}
}

func TestPrepareBytesKeepsSmallImage(t *testing.T) {
	data := encodePNG(t, 40, 30)

	img, err := PrepareBytes("menu.png", data, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Resized || img.Reencoded {
		t.Errorf("small image should be uploaded as-is: %+v", img)
	}
	if !bytes.Equal(img.Data, data) || img.ContentType != "image/png" || img.Filename != "menu.png" {
		t.Errorf("original bytes not preserved")
	}
}

func TestPrepareBytesDownscales(t *testing.T) {
	img, err := PrepareBytes("dish.png", encodePNG(t, 200, 100), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !img.Resized || !img.Reencoded {
		t.Fatalf("expected resize, got %+v", img)
	}
	if img.Width != 50 || img.Height != 25 || img.OrigWidth != 200 {
		t.Errorf("dimensions = %dx%d (orig %dx%d)", img.Width, img.Height, img.OrigWidth, img.OrigHeight)
	}
	if img.ContentType != "image/jpeg" || img.Filename != "dish.jpg" {
		t.Errorf("output = %s %s", img.Filename, img.ContentType)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("decoded bounds = %v", b)
	}
}

func TestPrepareBytesRejects(t *testing.T) {
	if _, err := PrepareBytes("menu.gif", []byte("GIF89a"), 0); err == nil {
		t.Error("expected unsupported format error")
	}
	if _, err := PrepareBytes("menu.jpg", []byte("not an image"), 0); err == nil {
		t.Error("expected decode error")
	}
}

func TestPrepareFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Lunch.PNG")
	if err := os.WriteFile(path, encodePNG(t, 20, 20), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Prepare(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Filename != "Lunch.PNG" || img.Width != 20 {
		t.Errorf("got %+v", img)
	}

	if _, err := Prepare(dir, 0); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := Prepare(filepath.Join(dir, "missing.jpg"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.jpg": true, "b.JPEG": true, "c.png": true, "d.heic": false, "e": false,
	} {
		if got := IsSupported(path); got != want {
			t.Errorf("IsSupported(%q) = %v", path, got)
		}
	}
}
