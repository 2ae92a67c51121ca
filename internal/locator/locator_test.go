package locator

import (
	"reflect"
	"testing"
)

func TestInCentRange(t *testing.T) {
	for cents := 0; cents <= 99; cents++ {
		want := cents >= 8 && cents <= 16
		if got := InCentRange(cents, 8, 16); got != want {
			t.Fatalf("InCentRange(%d, 8, 16) = %v; want %v", cents, got, want)
		}
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"$0.08", 8, true},
		{"0.16", 16, true},
		{" $0.10 ", 10, true},
		{"$0.29", 29, true},
		{"$1.05", 0, false},
		{"$0.085", 0, false},
		{"abc", 0, false},
		{"-0.08", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCents(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ParseCents(%q) = (%d, %v); want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestScanCents(t *testing.T) {
	text := `<div>$0.07</div><div>$0.08</div><span>$0.16</span><span>$0.17</span>
	<td>$0.12</td><td>$0.08</td><td>$10.12</td><td>$0.3</td>`

	got := ScanCents(text, 8, 16)
	want := []int{8, 12, 16}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanCents() = %v; want %v", got, want)
	}

	if got := ScanCents("no prices here", 8, 16); len(got) != 0 {
		t.Fatalf("ScanCents() on empty = %v; want none", got)
	}
}

func TestPriceText(t *testing.T) {
	if got, want := PriceText(8), "$0.08"; got != want {
		t.Fatalf("PriceText(8) = %q; want %q", got, want)
	}
	if got, want := PriceText(16), "$0.16"; got != want {
		t.Fatalf("PriceText(16) = %q; want %q", got, want)
	}
}

func TestClickPoint(t *testing.T) {
	box := Box{X: 100, Y: 200, Width: 400, Height: 40}

	tests := []struct {
		name  string
		strat Strategy
		want  Point
	}{
		{"tenth", Strategy{Fraction: 0.1}, Point{X: 140, Y: 220}},
		{"fifth", Strategy{Fraction: 0.2}, Point{X: 180, Y: 220}},
		{"left_of_price", Strategy{OffsetPX: 50}, Point{X: 50, Y: 220}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClickPoint(box, tt.strat); got != tt.want {
				t.Fatalf("ClickPoint() = %+v; want %+v", got, tt.want)
			}
		})
	}

	edge := Box{X: 10, Y: 0, Width: 50, Height: 10}
	if got := ClickPoint(edge, Strategy{OffsetPX: 50}); got.X != 1 {
		t.Fatalf("ClickPoint() X = %v; want clamp to 1", got.X)
	}
}

func TestBoxPlausible(t *testing.T) {
	if !(Box{Width: 120, Height: 30}).Plausible(20, 8) {
		t.Fatalf("expected row-sized box to be plausible")
	}
	if (Box{Width: 4, Height: 30}).Plausible(20, 8) {
		t.Fatalf("expected narrow box to be rejected")
	}
}

func TestDefaultStrategiesStayLeft(t *testing.T) {
	for _, s := range DefaultStrategies() {
		if s.Fraction > 0.3 {
			t.Fatalf("strategy %s clicks too far right", s)
		}
	}
}
