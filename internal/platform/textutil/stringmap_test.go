package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMapTrimsAndFilters(t *testing.T) {
	input := map[string]string{
		" event ":    " quote.sent ",
		"quoteId":    "qt_01ABC",
		"productId":  "  ",
		"  ":         "dropped",
		"":           "dropped",
		"customerId": "",
	}

	expected := map[string]string{
		"event":   "quote.sent",
		"quoteId": "qt_01ABC",
	}

	if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %#v, got %#v", expected, actual)
	}
}

func TestNormalizeStringMapEmptyInput(t *testing.T) {
	if NormalizeStringMap(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	if NormalizeStringMap(map[string]string{}) != nil {
		t.Fatal("expected nil for empty input")
	}
	if NormalizeStringMap(map[string]string{" ": " "}) != nil {
		t.Fatal("expected nil when nothing survives trimming")
	}
}
