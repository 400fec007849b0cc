package tirespec

import (
	"testing"
)

func price(v float64) *float64 { return &v }

func validRecord() *Record {
	return &Record{
		Brand:      "Michelin",
		Model:      "Pilot Sport 4",
		Width:      "225",
		Height:     "45",
		Radius:     "17",
		LoadIndex:  "94",
		SpeedIndex: "Y",
		Season:     "summer",
		DOT:        "3419",
		TreadDepth: "7mm",
		SKU:        "TEST-001",
		NewPrice:   price(150),
	}
}

func TestValidate_ValidRecord(t *testing.T) {
	if err := Validate(validRecord()); err != nil {
		t.Errorf("Expected valid record, got error: %v", err)
	}
}

func TestValidate_MissingSKU(t *testing.T) {
	rec := validRecord()
	rec.SKU = ""

	err := Validate(rec)
	if err == nil {
		t.Fatal("Expected error for missing SKU")
	}
	if !IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestValidate_SKUWithPathSeparator(t *testing.T) {
	for _, sku := range []string{"a/b", `a\b`, "../escape"} {
		rec := validRecord()
		rec.SKU = sku

		err := Validate(rec)
		if err == nil {
			t.Errorf("Expected error for SKU %q", sku)
			continue
		}
		if !IsValidationError(err) {
			t.Errorf("Expected ValidationError for SKU %q, got %T", sku, err)
		}
	}
}

func TestValidate_NegativePrices(t *testing.T) {
	rec := validRecord()
	rec.NewPrice = price(-10)
	if err := Validate(rec); err == nil {
		t.Error("Expected error for negative new price")
	}

	rec = validRecord()
	rec.SalePrice = price(-5)
	if err := Validate(rec); err == nil {
		t.Error("Expected error for negative sale price")
	}
}

func TestValidate_AbsentNewPrice(t *testing.T) {
	rec := validRecord()
	rec.NewPrice = nil

	if err := Validate(rec); err != nil {
		t.Errorf("Price-less record should be valid, got error: %v", err)
	}
}

func TestValidate_ExplicitZeroNewPrice(t *testing.T) {
	rec := validRecord()
	rec.NewPrice = price(0)

	err := Validate(rec)
	if err == nil {
		t.Fatal("Expected error for explicit zero new price")
	}
	if !IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestValidate_SaleWithoutNewPrice(t *testing.T) {
	rec := validRecord()
	rec.NewPrice = nil
	rec.SalePrice = price(105)

	err := Validate(rec)
	if err == nil {
		t.Fatal("Expected error for sale price without new price")
	}
	if !IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestValidate_SaleAboveNewPrice(t *testing.T) {
	rec := validRecord()
	rec.SalePrice = price(*rec.NewPrice + 50)

	if err := Validate(rec); err == nil {
		t.Error("Expected error when sale price exceeds new price")
	}
}

func TestValidate_UnknownSeason(t *testing.T) {
	rec := validRecord()
	rec.Season = "monsoon"

	if err := Validate(rec); err == nil {
		t.Error("Expected error for unknown season code")
	}
}

func TestValidate_UnknownSpeedIndex(t *testing.T) {
	rec := validRecord()
	rec.SpeedIndex = "Z9"

	if err := Validate(rec); err == nil {
		t.Error("Expected error for unknown speed index")
	}
}

func TestValidate_ValidSeasons(t *testing.T) {
	for _, season := range []string{"summer", "winter", "all_season"} {
		rec := validRecord()
		rec.Season = season

		if err := Validate(rec); err != nil {
			t.Errorf("Expected valid for season %s, got error: %v", season, err)
		}
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestParse_ValidRecord(t *testing.T) {
	data := []byte(`{
		"brand": "Continental",
		"model": "PremiumContact 6",
		"width": "205",
		"height": "55",
		"radius": "R16",
		"load_index": "91",
		"speed_index": "V",
		"season": "summer",
		"sku": "CONTI-205-55",
		"new_price": 120,
		"sale_price": 90
	}`)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec.SKU != "CONTI-205-55" {
		t.Errorf("Expected SKU CONTI-205-55, got %s", rec.SKU)
	}
	if rec.SalePrice == nil || *rec.SalePrice != 90 {
		t.Errorf("Expected sale price 90, got %v", rec.SalePrice)
	}
}

func TestFeatureTags_Exhaustive(t *testing.T) {
	features := []Feature{FeatureReinforced, FeatureRunFlat, FeatureRimProtector, FeatureSevereSnow}

	for _, f := range features {
		if _, ok := f.Tag(); !ok {
			t.Errorf("Feature %d has no tag mapping", f)
		}
	}
}

func TestFeatureFlags_Set(t *testing.T) {
	ff := FeatureFlags{RunFlat: true, SevereSnow: true}

	set := ff.Set()
	if len(set) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(set))
	}
	if set[0] != FeatureRunFlat || set[1] != FeatureSevereSnow {
		t.Errorf("Unexpected feature order: %v", set)
	}
}
