package qr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder extracts the payload of a QR code from a receipt photo.
type Decoder struct {
	reader gozxing.Reader
}

func NewDecoder() *Decoder {
	return &Decoder{reader: qrcode.NewQRCodeReader()}
}

// DecodeFromImage reads a stored receipt photo and returns the QR
// payload found in it. A missing or unreadable file yields an empty
// payload, not an error: the caller treats both as "no QR".
func (d *Decoder) DecodeFromImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}

	payload, err := d.Decode(data)
	if err != nil {
		return "", nil
	}

	return payload, nil
}

// Decode returns the text of the first QR code found in the image data,
// or an empty string when the image contains no readable QR code.
// Decode errors are not fatal for the caller: a photo without a code is
// an expected input.
func (d *Decoder) Decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	return d.DecodeImage(img)
}

func (d *Decoder) DecodeImage(img image.Image) (string, error) {
	source := gozxing.NewLuminanceSourceFromImage(img)
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return "", fmt.Errorf("failed to binarize image: %w", err)
	}

	hints := map[gozxing.DecodeHintType]any{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	result, err := d.reader.Decode(bitmap, hints)
	if err != nil {
		// No code in the frame.
		return "", nil
	}

	return result.GetText(), nil
}
