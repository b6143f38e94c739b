package recognition

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient("test-token-1234", server.URL, 2*time.Second, testLogger())
}

func TestRecognizeByQR_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-token-1234", r.PostFormValue("token"))
		assert.Equal(t, "t=1&s=2", r.PostFormValue("qrraw"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": 1,
			"data": {
				"json": {
					"totalSum": 150050,
					"dateTime": "2024-03-10T18:42:00",
					"user": "ООО Лукойл",
					"retailPlaceAddress": "г. Москва, ш. Энтузиастов",
					"items": [
						{"name": "АИ-95", "quantity": 30.5, "price": 4920, "sum": 150060}
					]
				},
				"pdfurl": "https://proverkacheka.com/pdf/abc"
			}
		}`))
	})

	result, err := client.RecognizeByQR(context.Background(), "t=1&s=2")
	require.NoError(t, err)

	require.True(t, result.OK)
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, "1500.5", result.TotalAmount.String())

	require.NotNil(t, result.ReceiptAt)
	assert.Equal(t, 2024, result.ReceiptAt.Year())

	require.NotNil(t, result.StationName)
	assert.Equal(t, "ООО Лукойл", *result.StationName)

	require.NotNil(t, result.FuelType)
	assert.Equal(t, "AI95", string(*result.FuelType))
	require.NotNil(t, result.FuelGroup)
	assert.Equal(t, "BENZIN", string(*result.FuelGroup))

	require.NotNil(t, result.Liters)
	assert.Equal(t, "30.5", result.Liters.String())
	require.NotNil(t, result.PricePerLiter)
	assert.Equal(t, "49.2", result.PricePerLiter.String())

	require.NotNil(t, result.PDFURL)
	assert.Equal(t, "https://proverkacheka.com/pdf/abc", *result.PDFURL)

	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].IsFuel)
}

func TestRecognizeByQR_SmallTotalKeptAsIs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 1, "data": {"json": {"totalSum": 150}}}`))
	})

	result, err := client.RecognizeByQR(context.Background(), "t=1")
	require.NoError(t, err)

	require.True(t, result.OK)
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, "150", result.TotalAmount.String())
}

func TestRecognizeByQR_StillPendingIsRetryable(t *testing.T) {
	for _, code := range []string{"2", "4"} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code": ` + code + `, "data": "чек в очереди"}`))
		})

		result, err := client.RecognizeByQR(context.Background(), "t=1")
		require.NoError(t, err)

		assert.False(t, result.OK)
		assert.True(t, result.Retryable, "code %s must be retryable", code)
	}
}

func TestRecognizeByQR_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code": 403, "data": "не авторизован"}`))
	})

	result, err := client.RecognizeByQR(context.Background(), "t=1")
	require.NoError(t, err)

	assert.False(t, result.OK)
	assert.False(t, result.Retryable)
	assert.Equal(t, "Неверный или не передан токен proverkacheka", result.Note)
}

func TestRecognizeByQR_ProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 3, "data": "чек не найден"}`))
	})

	result, err := client.RecognizeByQR(context.Background(), "t=1")
	require.NoError(t, err)

	assert.False(t, result.OK)
	assert.False(t, result.Retryable)
	assert.Contains(t, result.Note, "code=3")
	assert.Contains(t, result.Note, "чек не найден")
}

func TestRecognizeByQR_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"code": 1}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.RecognizeByQR(ctx, "t=1")
	assert.Error(t, err)
}

func TestRecognizeByQR_NoToken(t *testing.T) {
	client := NewClient("", "http://localhost:1", time.Second, testLogger())

	_, err := client.RecognizeByQR(context.Background(), "t=1")
	assert.ErrorIs(t, err, ErrTokenNotSet)
}

func TestRecognizeByFile_SendsMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "test-token-1234", r.PostFormValue("token"))

		file, header, err := r.FormFile("qrfile")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "receipt.jpg", header.Filename)

		w.Write([]byte(`{"code": 1, "data": {"json": {"totalSum": 98000, "items": [{"name": "ДТ", "quantity": 15}]}}}`))
	})

	result, err := client.RecognizeByFile(context.Background(), "receipt.jpg", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)

	require.True(t, result.OK)
	require.NotNil(t, result.FuelType)
	assert.Equal(t, "DIESEL", string(*result.FuelType))
	require.NotNil(t, result.TotalAmount)
	assert.Equal(t, "980", result.TotalAmount.String())
}

func TestExtractResult_ItemNamingVariants(t *testing.T) {
	result := extractResult([]byte(`{
		"data": {
			"json": {
				"items": [
					{"description": "Бензин АИ-92", "quantity": 20, "sum": 92000},
					{"name": "Кофе", "sum": 150}
				]
			}
		}
	}`))

	require.True(t, result.OK)
	require.Len(t, result.Items, 2)

	assert.True(t, result.Items[0].IsFuel)
	assert.Equal(t, "Бензин АИ-92", result.Items[0].Name)
	assert.False(t, result.Items[1].IsFuel)

	require.NotNil(t, result.FuelType)
	assert.Equal(t, "AI92", string(*result.FuelType))

	// price derived from sum/quantity: 920 / 20
	require.NotNil(t, result.PricePerLiter)
	assert.Equal(t, "46", result.PricePerLiter.String())
}
