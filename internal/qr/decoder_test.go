package qr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func encodeQR(t *testing.T, contents string) []byte {
	t.Helper()

	writer := qrcode.NewQRCodeWriter()
	matrix, err := writer.Encode(contents, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))

	return buf.Bytes()
}

func TestDecoder_Decode(t *testing.T) {
	payload := "t=20240101T1200&s=1500.00&fn=9960440300000001&i=12345&fp=1234567890&n=1"

	decoder := NewDecoder()
	got, err := decoder.Decode(encodeQR(t, payload))

	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecoder_Decode_NoCode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blankImage(64)))

	decoder := NewDecoder()
	got, err := decoder.Decode(buf.Bytes())

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecoder_Decode_BadImage(t *testing.T) {
	decoder := NewDecoder()
	_, err := decoder.Decode([]byte("not an image"))

	assert.Error(t, err)
}
