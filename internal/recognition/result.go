package recognition

import (
	"encoding/json"
	"strings"
	"time"

	"fuel-control/internal/models"

	"github.com/shopspring/decimal"
)

// Result is the normalized outcome of one provider call.
//
// OK means the provider recognized the receipt and the fields below are
// populated. Retryable marks a soft failure (the provider has accepted
// the check but has not processed it yet), which the worker may retry
// on a later tick.
type Result struct {
	OK        bool
	Retryable bool
	Note      string

	TotalAmount   *decimal.Decimal
	ReceiptAt     *time.Time
	StationName   *string
	AddressShort  *string
	FuelType      *models.FuelType
	FuelGroup     *models.FuelGroup
	Liters        *decimal.Decimal
	PricePerLiter *decimal.Decimal
	PDFURL        *string
	Items         []models.ReceiptItem

	Raw json.RawMessage
}

// DetectFuelType classifies an item name. The empty type means the item
// is not fuel.
func DetectFuelType(name string) (models.FuelType, models.FuelGroup) {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "92"):
		return models.FuelAI92, models.FuelGroupBenzin
	case strings.Contains(lower, "95"):
		return models.FuelAI95, models.FuelGroupBenzin
	case strings.Contains(lower, "дт"), strings.Contains(lower, "дизель"), strings.Contains(lower, "diesel"):
		return models.FuelDiesel, models.FuelGroupDiesel
	case strings.Contains(lower, "газ"), strings.Contains(lower, "lpg"), strings.Contains(lower, "cng"):
		return models.FuelGas, models.FuelGroupGas
	default:
		return "", ""
	}
}

// normalizeTotal converts a provider amount to rubles. The API mixes
// units: totals above 1000 are assumed to be kopecks.
func normalizeTotal(v any) *decimal.Decimal {
	d, ok := toDecimal(v)
	if !ok {
		return nil
	}
	if d.GreaterThan(decimal.NewFromInt(1000)) {
		d = d.Round(0).Div(decimal.NewFromInt(100))
	}
	return &d
}

// normalizePrice converts a per-unit price to rubles. Prices above 100
// are assumed to be kopecks.
func normalizePrice(v any) *decimal.Decimal {
	d, ok := toDecimal(v)
	if !ok || !d.IsPositive() {
		return nil
	}
	if d.GreaterThan(decimal.NewFromInt(100)) {
		d = d.Div(decimal.NewFromInt(100))
	}
	return &d
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		if strings.TrimSpace(val) == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		return decimal.Decimal{}, false
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func firstString(sources ...any) *string {
	for _, source := range sources {
		if s, ok := source.(string); ok && strings.TrimSpace(s) != "" {
			trimmed := strings.TrimSpace(s)
			return &trimmed
		}
	}
	return nil
}

func probe(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if m == nil {
			return nil
		}
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// extractResult maps the provider payload onto a Result. The provider
// has shipped several response shapes over the years, so every field is
// probed through a fallback chain.
func extractResult(payload []byte) Result {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return Result{Note: "провайдер вернул некорректный JSON", Raw: payload}
	}

	data := asMap(root["data"])

	dataJSON := asMap(probe(data, "json"))
	if dataJSON == nil {
		dataJSON = asMap(root["json"])
	}

	var receipt map[string]any
	for _, candidate := range []map[string]any{
		asMap(asMap(asMap(root["ticket"])["document"])["receipt"]),
		asMap(asMap(asMap(data["ticket"])["document"])["receipt"]),
		dataJSON,
		asMap(root["receipt"]),
		asMap(data["receipt"]),
		asMap(root["check"]),
		data,
		root,
	} {
		if candidate != nil {
			receipt = candidate
			break
		}
	}

	result := Result{OK: true, Raw: payload}

	for _, source := range []any{
		probe(dataJSON, "totalSum"),
		probe(receipt, "totalSum", "total_sum", "total"),
		probe(root, "total_sum"),
	} {
		if total := normalizeTotal(source); total != nil {
			result.TotalAmount = total
			break
		}
	}

	for _, source := range []any{
		probe(dataJSON, "dateTime"),
		probe(receipt, "dateTime", "datetime", "date", "time"),
		probe(root, "created_at", "time"),
	} {
		if at := parseReceiptTime(source); at != nil {
			result.ReceiptAt = at
			break
		}
	}

	result.StationName = firstString(
		probe(dataJSON, "user"),
		probe(receipt, "user", "retailPlace", "seller"),
	)
	result.AddressShort = firstString(
		probe(dataJSON, "retailPlaceAddress"),
		probe(receipt, "retailPlaceAddress", "retailPlace", "address"),
	)

	rawItems, _ := probe(dataJSON, "items").([]any)
	if rawItems == nil {
		rawItems, _ = probe(receipt, "items").([]any)
	}
	if rawItems == nil {
		rawItems, _ = probe(root, "items").([]any)
	}

	for _, rawItem := range rawItems {
		itemMap := asMap(rawItem)
		if itemMap == nil {
			continue
		}

		name := ""
		if s := firstString(itemMap["name"], itemMap["description"]); s != nil {
			name = *s
		}

		item := models.ReceiptItem{
			Name:      name,
			Quantity:  toDecimalPtr(itemMap["quantity"]),
			UnitPrice: normalizePrice(probe(itemMap, "price", "unitPrice")),
			Amount:    normalizeTotal(probe(itemMap, "sum", "amount")),
		}

		fuelType, fuelGroup := DetectFuelType(name)
		item.IsFuel = fuelType != ""
		result.Items = append(result.Items, item)

		if item.IsFuel && result.FuelType == nil {
			result.FuelType = &fuelType
			result.FuelGroup = &fuelGroup

			if item.Quantity != nil && item.Quantity.IsPositive() {
				result.Liters = item.Quantity
			}
			result.PricePerLiter = item.UnitPrice

			if result.PricePerLiter == nil && result.Liters != nil && result.Liters.IsPositive() && item.Amount != nil {
				price := item.Amount.Div(*result.Liters)
				result.PricePerLiter = &price
			}
		}
	}

	result.PDFURL = firstString(
		probe(data, "pdfurl"),
		probe(root, "pdfUrl", "pdf_url", "pdf"),
	)

	return result
}

func toDecimalPtr(v any) *decimal.Decimal {
	d, ok := toDecimal(v)
	if !ok {
		return nil
	}
	return &d
}

func parseReceiptTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return &t
		}
	}

	return nil
}
