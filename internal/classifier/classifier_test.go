package classifier

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantType   ResultType
		wantConfid float64
	}{
		{"confirmed plain", "sudah minum obat", ResultConfirmed, 0.9},
		{"confirmed slang", "udah kok", ResultConfirmed, 0.9},
		{"confirmed abbreviation", "sdh", ResultConfirmed, 0.9},
		{"confirmed uppercase", "SUDAH", ResultConfirmed, 0.9},
		{"confirmed with punctuation", "Oke, selesai!", ResultConfirmed, 0.9},
		{"missed plain", "belum sempat", ResultMissed, 0.8},
		{"missed abbreviation", "blm", ResultMissed, 0.8},
		{"missed forgot", "maaf lupa", ResultMissed, 0.8},
		{"later plain", "nanti saja", ResultLater, 0.7},
		{"later slang", "ntar dulu", ResultLater, 0.7},
		{"unknown emoji", "👍", ResultUnknown, 0.3},
		{"unknown free text", "obatnya warna apa", ResultUnknown, 0.3},
		{"empty", "", ResultUnknown, 0.3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.text)
			if got.Type != tc.wantType {
				t.Errorf("Classify(%q) type = %s, want %s", tc.text, got.Type, tc.wantType)
			}
			if got.Confidence != tc.wantConfid {
				t.Errorf("Classify(%q) confidence = %v, want %v", tc.text, got.Confidence, tc.wantConfid)
			}
		})
	}
}

func TestClassifyOrdering(t *testing.T) {
	// A reply containing keywords of several outcomes resolves by rule
	// order: confirmed wins over missed, missed wins over later.
	got := Classify("sudah tapi yang kedua belum")
	if got.Type != ResultConfirmed {
		t.Errorf("mixed confirmed/missed classified as %s, want %s", got.Type, ResultConfirmed)
	}

	got = Classify("belum, nanti saja")
	if got.Type != ResultMissed {
		t.Errorf("mixed missed/later classified as %s, want %s", got.Type, ResultMissed)
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	// "ya" must not match inside "saya".
	got := Classify("saya tanya dulu")
	if got.Type != ResultUnknown {
		t.Errorf("substring keyword matched across word boundary: got %s", got.Type)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("belum minum")
	for i := 0; i < 100; i++ {
		if got := Classify("belum minum"); got != first {
			t.Fatalf("classification not deterministic: %v vs %v", got, first)
		}
	}
}

func TestDetectEmergency(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"dada saya sakit sekali", true},
		{"tolong, sesak napas", true},
		{"ini darurat", true},
		{"kesakitan sejak pagi", true}, // inflected form, substring match
		{"sudah minum obat", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := DetectEmergency(tc.text); got != tc.want {
			t.Errorf("DetectEmergency(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDetectEmergencyIndependentOfClassification(t *testing.T) {
	// A confirming reply that also carries an emergency keyword still
	// trips emergency detection.
	text := "sudah diminum tapi sekarang nyeri sekali"
	if got := Classify(text); got.Type != ResultConfirmed {
		t.Errorf("classification = %s, want %s", got.Type, ResultConfirmed)
	}
	if !DetectEmergency(text) {
		t.Error("emergency keyword not detected alongside confirmation")
	}
}
