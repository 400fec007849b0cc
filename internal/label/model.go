// Package label derives canonical label fields from tire records and lays
// them out on a fixed-size page.
package label

import (
	"fmt"
	"math"
	"strings"

	"github.com/smartpneu/label-engine/pkg/tirespec"
)

// Fields is the canonical, display-ready view of one tire record. Built
// once per label, immutable afterwards.
type Fields struct {
	Brand        string
	Model        string
	Dimensions   string // "205/55 R16"
	Season       string
	LoadIndex    string
	SpeedIndex   string // "V (240 km/h)"
	DOT          string
	TreadDepth   string
	SKU          string
	FeatureTags  []string
	DiscountPct  int
	HasDiscount  bool
	QRPayload    string // product page URL
	CodePayload  string // barcode content, the SKU
}

// Canonicalize validates a record and derives its label fields. baseURL is
// used for the QR payload when the record carries no explicit product URL.
// Unmapped feature flags are reported through missing so the caller can log
// and continue instead of the lookup silently dropping them.
func Canonicalize(rec *tirespec.Record, baseURL string) (*Fields, []tirespec.Feature, error) {
	if err := tirespec.Validate(rec); err != nil {
		return nil, nil, err
	}

	f := &Fields{
		Brand:       rec.Brand,
		Model:       rec.Model,
		LoadIndex:   rec.LoadIndex,
		DOT:         rec.DOT,
		TreadDepth:  rec.TreadDepth,
		SKU:         rec.SKU,
		CodePayload: rec.SKU,
	}

	radius := strings.TrimLeft(rec.Radius, "Rr")
	if rec.Width != "" && rec.Height != "" && radius != "" {
		f.Dimensions = fmt.Sprintf("%s/%s R%s", rec.Width, rec.Height, radius)
	}

	if rec.Season != "" {
		season, _ := tirespec.SeasonDisplay(rec.Season)
		f.Season = season
	}
	if rec.SpeedIndex != "" {
		kmh, _ := tirespec.SpeedRating(rec.SpeedIndex)
		f.SpeedIndex = fmt.Sprintf("%s (%d km/h)", rec.SpeedIndex, kmh)
	}

	if rec.SalePrice != nil {
		f.DiscountPct = discountPercent(*rec.NewPrice, *rec.SalePrice)
		f.HasDiscount = true
	}

	f.QRPayload = rec.ProductURL
	if f.QRPayload == "" {
		f.QRPayload = strings.TrimRight(baseURL, "/") + "/products/" + rec.SKU
	}

	var missing []tirespec.Feature
	for _, feat := range rec.Features.Set() {
		tag, ok := feat.Tag()
		if !ok {
			missing = append(missing, feat)
			continue
		}
		f.FeatureTags = append(f.FeatureTags, tag)
	}

	return f, missing, nil
}

// discountPercent rounds half away from zero, so 180 -> 99 yields 45.
func discountPercent(newPrice, salePrice float64) int {
	return int(math.Round((newPrice - salePrice) / newPrice * 100))
}
