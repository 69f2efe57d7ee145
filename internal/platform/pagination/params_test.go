package pagination

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token, got %q", params.PageToken)
	}
	if !reflect.DeepEqual(params.Cursor, Cursor{}) {
		t.Fatalf("expected zero cursor, got %#v", params.Cursor)
	}
}

func TestParsePageSizeBounds(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}

	cases := []struct {
		name string
		raw  string
		want int
	}{
		{name: "explicit", raw: "30", want: 30},
		{name: "capped to max", raw: "200", want: 40},
		{name: "empty uses default", raw: "", want: 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			if tc.raw != "" {
				values.Set("pageSize", tc.raw)
			}
			params, err := Parse(values, opts)
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseRejectsBadPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5", "1.5"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestParseRoundTripsToken(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"qt_01HX"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token %q, got %q", token, params.PageToken)
	}
	if len(params.Cursor.StartAfter) != 1 || params.Cursor.StartAfter[0] != "qt_01HX" {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
}

func TestParseRejectsBadToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "not@base64!")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", token)
	}
}

func TestFromRequestReadsQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/quotes?pageSize=15", nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 15 {
		t.Fatalf("expected page size 15, got %d", params.PageSize)
	}
}

func TestContextCarriesParams(t *testing.T) {
	ctx := WithParams(context.Background(), Params{PageSize: 7})

	params, ok := FromContext(ctx)
	if !ok || params.PageSize != 7 {
		t.Fatalf("expected attached params, got %#v ok=%v", params, ok)
	}

	if got := FromContextOrDefault(context.Background()).PageSize; got != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, got)
	}
	if got := FromContextOrDefault(ctx).PageSize; got != 7 {
		t.Fatalf("expected attached page size 7, got %d", got)
	}
}
