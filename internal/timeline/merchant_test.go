package timeline

import "testing"

func TestCleanMerchantStripsProcessorNoise(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"LIDL #12345", "Lidl"},
		{"STORE *9981", "Store"},
		{"CARREFOUR 123456", "Carrefour"},
		{"ACME GMBH", "Acme"},
		{"WIDGETS LTD.", "Widgets"},
		{"SHOP DE123456", "Shop"},
		{"KIOSK 12/25", "Kiosk"},
	}
	for _, tc := range cases {
		if got := CleanMerchant(tc.in); got != tc.want {
			t.Errorf("CleanMerchant(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanMerchantTitleCasesShoutyNames(t *testing.T) {
	if got := CleanMerchant("BOULANGERIE DE LA GARE"); got != "Boulangerie de la Gare" {
		t.Fatalf("got %q", got)
	}
	if got := CleanMerchant("corner shop"); got != "Corner Shop" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanMerchantKeepsMixedCase(t *testing.T) {
	if got := CleanMerchant("McDonald's"); got != "McDonald's" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanMerchantEmpty(t *testing.T) {
	if got := CleanMerchant(""); got != "Unknown" {
		t.Fatalf("got %q", got)
	}
	if got := CleanMerchant("   "); got != "Unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanMerchantCollapsesWhitespace(t *testing.T) {
	if got := CleanMerchant("Uber   Eats"); got != "Uber Eats" {
		t.Fatalf("got %q", got)
	}
}
