package platform

import (
	"errors"
	"math"
	"testing"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int(7), 7, true},
		{int32(-3), -3, true},
		{uint8(200), 200, true},
		{float64(5000), 5000, true},
		{float32(2), 2, true},
		{1.5, 0, false},
		{math.NaN(), 0, false},
		{math.Inf(1), 0, false},
		{uint64(math.MaxUint64), 0, false},
		{"12", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("toInt64(%#v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseMap(t *testing.T) {
	m := parseMap(map[any]any{"uri": "a", 3: "dropped"})
	if len(m) != 1 || m["uri"] != "a" {
		t.Errorf("parseMap: got %v", m)
	}
	if parseMap("nope") != nil {
		t.Error("non-map should parse to nil")
	}
}

func TestArguments(t *testing.T) {
	if _, err := newArguments([]any{1}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("slice arguments: got %v", err)
	}
	a, err := newArguments(nil)
	if err != nil || len(a) != 0 {
		t.Fatalf("nil arguments: %v %v", a, err)
	}

	a = arguments{
		"uri":     "https://x",
		"nothing": nil,
		"headers": map[string]any{"Referer": "r"},
		"bad":     map[string]any{"X": 1},
		"count":   3,
	}
	if s, err := a.optionalString("uri"); err != nil || s.OrEmpty() != "https://x" {
		t.Errorf("optionalString(uri) = %v, %v", s, err)
	}
	if s, _ := a.optionalString("nothing"); s.IsPresent() {
		t.Error("null should be absent")
	}
	if _, err := a.optionalString("count"); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("non-string: got %v", err)
	}
	if h, err := a.stringMap("headers"); err != nil || h["Referer"] != "r" {
		t.Errorf("stringMap(headers) = %v, %v", h, err)
	}
	if h, err := a.stringMap("missing"); err != nil || h == nil || len(h) != 0 {
		t.Errorf("missing map should be empty, got %v, %v", h, err)
	}
	if _, err := a.stringMap("bad"); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("non-string value: got %v", err)
	}
	if n, err := a.intValue("count"); err != nil || n != 3 {
		t.Errorf("intValue = %d, %v", n, err)
	}
	if f, err := a.floatValue("count"); err != nil || f != 3 {
		t.Errorf("floatValue = %v, %v", f, err)
	}
	if _, err := a.boolValue("count"); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("boolValue on int: got %v", err)
	}
}
