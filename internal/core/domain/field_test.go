package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFieldsUnmarshalInfersKinds(t *testing.T) {
	var f Fields
	raw := `{
		"name": "Ada",
		"dob": "2026-02-28",
		"weight": 3.2,
		"twin": false,
		"middle": null,
		"photo": {"path": "/files/1.png", "mimeType": "image/png"},
		"address": {"city": "Vilnius", "moved": "2020-01-01"}
	}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]FieldKind{
		"name":    KindString,
		"dob":     KindDate,
		"weight":  KindNumber,
		"twin":    KindBoolean,
		"middle":  KindNull,
		"photo":   KindFile,
		"address": KindObject,
	}
	for key, kind := range want {
		if got := f[key].Kind(); got != kind {
			t.Fatalf("%s: expected %s, got %s", key, kind, got)
		}
	}
	if f["photo"].File().MimeType != "image/png" {
		t.Fatalf("unexpected file reference %+v", f["photo"].File())
	}
	if f["address"].Object()["moved"].Kind() != KindDate {
		t.Fatalf("nested values must be typed")
	}
}

func TestFieldsRejectArrays(t *testing.T) {
	var f Fields
	err := json.Unmarshal([]byte(`{"children": ["a", "b"]}`), &f)
	if !errors.Is(err, errUnsupportedFieldValue) {
		t.Fatalf("expected unsupported value error, got %v", err)
	}
}

func TestFieldsMergeDoesNotAlias(t *testing.T) {
	base := Fields{"a": String("1")}
	merged := base.Merge(Fields{"a": String("2"), "b": Bool(true)})
	if base["a"].String() != "1" {
		t.Fatalf("merge mutated its receiver")
	}
	if merged["a"].String() != "2" || len(merged) != 2 {
		t.Fatalf("unexpected merge result %v", merged.Plain())
	}
}

func TestNewTrackingID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := NewTrackingID()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !ValidTrackingID(id) {
			t.Fatalf("invalid tracking id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 190 {
		t.Fatalf("tracking ids repeat too often: %d unique of 200", len(seen))
	}
	if ValidTrackingID("ab12cd") || ValidTrackingID("AB12C") {
		t.Fatalf("lowercase and short ids must be invalid")
	}
}
