// Package tirespec defines the tire-attribute record accepted by the label engine
package tirespec

// Record represents one tire product as submitted by the product-creation
// workflow. All fields arrive pre-typed; validation decides whether the
// record can produce a label.
type Record struct {
	Brand      string `json:"brand"`
	Model      string `json:"model"`
	Width      string `json:"width"`       // e.g. "205"
	Height     string `json:"height"`      // e.g. "55"
	Radius     string `json:"radius"`      // "16" or "R16"
	LoadIndex  string `json:"load_index"`  // e.g. "91"
	SpeedIndex string `json:"speed_index"` // closed enumeration, e.g. "V"
	Season     string `json:"season"`      // closed enumeration
	DOT        string `json:"dot"`
	TreadDepth string `json:"tread_depth"` // e.g. "7mm"
	SKU        string `json:"sku"`

	// Prices are pointers so an absent price and an explicit zero stay
	// distinguishable after decoding.
	NewPrice  *float64 `json:"new_price,omitempty"`
	SalePrice *float64 `json:"sale_price,omitempty"`

	ProductURL string `json:"product_url,omitempty"`

	Quantity int `json:"quantity,omitempty"`

	Features FeatureFlags `json:"features,omitempty"`
}

// FeatureFlags are the boolean tire attributes that map to collection tags.
type FeatureFlags struct {
	Reinforced   bool `json:"reinforced,omitempty"`
	RunFlat      bool `json:"run_flat,omitempty"`
	RimProtector bool `json:"rim_protector,omitempty"`
	SevereSnow   bool `json:"severe_snow,omitempty"`
}

// Feature identifies one boolean tire attribute.
type Feature int

const (
	FeatureReinforced Feature = iota
	FeatureRunFlat
	FeatureRimProtector
	FeatureSevereSnow
)

// featureTags is the exhaustive feature-to-tag table. An unmapped feature
// is a configuration error, never a silent no-op.
var featureTags = map[Feature]string{
	FeatureReinforced:   "XL",
	FeatureRunFlat:      "Run Flat",
	FeatureRimProtector: "FR",
	FeatureSevereSnow:   "3PMSF",
}

// Tag returns the collection tag for a feature. ok is false for a feature
// missing from the mapping table; the caller decides how loudly to complain.
func (f Feature) Tag() (tag string, ok bool) {
	tag, ok = featureTags[f]
	return tag, ok
}

// Set returns the features enabled on the record, in declaration order.
func (ff FeatureFlags) Set() []Feature {
	var out []Feature
	if ff.Reinforced {
		out = append(out, FeatureReinforced)
	}
	if ff.RunFlat {
		out = append(out, FeatureRunFlat)
	}
	if ff.RimProtector {
		out = append(out, FeatureRimProtector)
	}
	if ff.SevereSnow {
		out = append(out, FeatureSevereSnow)
	}
	return out
}

// seasonDisplay is the closed season enumeration. Unknown codes fail
// validation rather than defaulting.
var seasonDisplay = map[string]string{
	"summer":     "Été",
	"winter":     "Hiver",
	"all_season": "4 Saisons",
}

// speedDisplay maps speed-index codes to their rated top speed in km/h.
var speedDisplay = map[string]int{
	"Q": 160,
	"R": 170,
	"S": 180,
	"T": 190,
	"H": 210,
	"V": 240,
	"W": 270,
	"Y": 300,
}

// SeasonDisplay returns the label string for a season code.
func SeasonDisplay(code string) (string, bool) {
	s, ok := seasonDisplay[code]
	return s, ok
}

// SpeedRating returns the km/h rating for a speed-index code.
func SpeedRating(code string) (int, bool) {
	v, ok := speedDisplay[code]
	return v, ok
}
