package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testWAV() []byte {
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x40\x1f\x00\x00\x80\x3e\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00")
	return append(header, make([]byte, 16)...)
}

func TestDecodeDataURL(t *testing.T) {
	raw := testPNG(t)
	encoded := base64.StdEncoding.EncodeToString(raw)

	data, err := DecodeDataURL("data:image/png;base64," + encoded)
	if err != nil {
		t.Fatalf("decode data url: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Fatal("decoded bytes differ")
	}

	data, err = DecodeDataURL(encoded)
	if err != nil || !bytes.Equal(data, raw) {
		t.Fatalf("bare base64 should decode, err=%v", err)
	}
}

func TestDecodeDataURLErrors(t *testing.T) {
	if _, err := DecodeDataURL("  "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := DecodeDataURL("data:image/png;base64,"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for empty payload, got %v", err)
	}
	if _, err := DecodeDataURL("data:image/png;base64,***"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	huge := strings.Repeat("A", (MaxUploadSize/3+8)*4)
	if _, err := DecodeDataURL(huge); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestReadLimited(t *testing.T) {
	if _, err := ReadLimited(bytes.NewReader(make([]byte, MaxUploadSize+1))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	data, err := ReadLimited(strings.NewReader("abc"))
	if err != nil || string(data) != "abc" {
		t.Fatalf("unexpected result %q, %v", data, err)
	}
}

func TestValidate(t *testing.T) {
	p, err := Validate(KindImage, testPNG(t))
	if err != nil {
		t.Fatalf("png should be accepted: %v", err)
	}
	if p.MIMEType != "image/png" {
		t.Fatalf("unexpected mime type %s", p.MIMEType)
	}

	p, err = Validate(KindAudio, testWAV())
	if err != nil {
		t.Fatalf("wav should be accepted: %v", err)
	}
	if p.MIMEType != "audio/wav" {
		t.Fatalf("unexpected mime type %s", p.MIMEType)
	}

	if _, err := Validate(KindImage, []byte("hello")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := Validate(KindAudio, testPNG(t)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("png is not audio, got %v", err)
	}
}
