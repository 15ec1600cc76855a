package codec

import (
	"testing"
	"time"

	"github.com/onem2m-cse/cse/internal/resource"
)

func TestFormatFromMediaType(t *testing.T) {
	cases := map[string]Format{
		"application/json":                FormatJSON,
		"application/json; charset=utf-8":  FormatJSON,
		"application/cbor":                 FormatCBOR,
		"application/vnd.onem2m-res+xml":   FormatXML,
		"":                                 FormatJSON,
	}
	for mediaType, want := range cases {
		got, err := FormatFromMediaType(mediaType)
		if err != nil {
			t.Fatalf("FormatFromMediaType(%q): %v", mediaType, err)
		}
		if got != want {
			t.Fatalf("FormatFromMediaType(%q) = %q, want %q", mediaType, got, want)
		}
	}
}

func TestEncodeDecode_JSON_RoundTrips(t *testing.T) {
	envelope := map[string]interface{}{"m2m:sgn": map[string]interface{}{"nev": map[string]interface{}{"rep": "x"}}}
	data, err := Encode(envelope, FormatJSON)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	generic, err := DecodeGeneric(data, FormatJSON)
	if err != nil {
		t.Fatalf("DecodeGeneric: %v", err)
	}
	m, ok := generic.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", generic)
	}
	if _, ok := m["m2m:sgn"]; !ok {
		t.Fatalf("expected m2m:sgn key to survive round trip")
	}
}

func TestEncodeDecode_CBOR_RoundTrips(t *testing.T) {
	envelope := map[string]interface{}{"rn": "cnt1", "st": float64(3)}
	data, err := Encode(envelope, FormatCBOR)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	generic, err := DecodeGeneric(data, FormatCBOR)
	if err != nil {
		t.Fatalf("DecodeGeneric: %v", err)
	}
	m, ok := generic.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", generic)
	}
	if m["rn"] != "cnt1" {
		t.Fatalf("expected rn to survive cbor round trip, got %v", m["rn"])
	}
}

func TestEncodeDecode_XML_RoundTrips(t *testing.T) {
	envelope := map[string]interface{}{"m2m:cnt": map[string]interface{}{"rn": "cnt1", "st": float64(3)}}
	data, err := Encode(envelope, FormatXML)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	generic, err := DecodeGeneric(data, FormatXML)
	if err != nil {
		t.Fatalf("DecodeGeneric: %v", err)
	}
	m, ok := generic.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", generic)
	}
	inner, ok := m["m2m:cnt"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested m2m:cnt map, got %T", m["m2m:cnt"])
	}
	if inner["rn"] != "cnt1" {
		t.Fatalf("expected rn to survive xml round trip, got %v", inner["rn"])
	}
	if inner["st"] != float64(3) {
		t.Fatalf("expected st to survive xml round trip as a number, got %v (%T)", inner["st"], inner["st"])
	}
}

func TestDecodeResource_FromJSON(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := resource.New(resource.TypeCNT, now)
	r.RI = "cnt1"
	r.RN = "myCnt"
	r.Set("mni", float64(10))

	data, err := Encode(r, FormatJSON)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeResource(data, FormatJSON)
	if err != nil {
		t.Fatalf("DecodeResource: %v", err)
	}
	if decoded.RI != "cnt1" || decoded.RN != "myCnt" {
		t.Fatalf("unexpected decoded resource: %+v", decoded)
	}
	if mni, _ := decoded.Get("mni"); mni != float64(10) {
		t.Fatalf("expected mni attribute to survive, got %v", mni)
	}
}

func TestDecodeResource_FromCBOR(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := resource.New(resource.TypeAE, now)
	r.RI = "ae1"
	r.RN = "myAE"

	data, err := Encode(r, FormatCBOR)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeResource(data, FormatCBOR)
	if err != nil {
		t.Fatalf("DecodeResource: %v", err)
	}
	if decoded.RI != "ae1" {
		t.Fatalf("expected ri to survive cbor round trip, got %q", decoded.RI)
	}
}
