package profile

import "testing"

func TestParseMount(t *testing.T) {
	cases := []struct {
		spec    string
		wantErr bool
	}{
		{"none", false},
		{"", false},
		{"r:/data", false},
		{"w:/out", false},
		{"rw:/scratch", false},
		{"x:/bad", true},
		{"r:", true},
		{"noaccess", true},
	}
	for _, c := range cases {
		_, err := ParseMount(c.spec)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseMount(%q) error=%v, wantErr=%v", c.spec, err, c.wantErr)
		}
	}
}

func TestFromOptionsDefaults(t *testing.T) {
	p, err := FromOptions(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CPUMillis != DefaultCPUMillis || p.MemMB != DefaultMemMB || p.Net != NetNone {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestFromOptionsRejectsNonPositive(t *testing.T) {
	if _, err := FromOptions(Options{CPUMillis: -1}); err == nil {
		t.Fatal("expected error for negative cpu_ms")
	}
}

func TestCanonicalFingerprintEquivalence(t *testing.T) {
	p1, err := FromOptions(Options{FS: []string{"r:/a", "w:/b"}, Dependencies: []string{"pandas", "numpy"}, Net: "none", CPUMillis: 500, MemMB: 64})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := FromOptions(Options{FS: []string{"w:/b", "r:/a"}, Dependencies: []string{"numpy", "pandas"}, Net: "none", CPUMillis: 500, MemMB: 64})
	if err != nil {
		t.Fatal(err)
	}
	if p1.Canonical() != p2.Canonical() {
		t.Fatalf("canonical forms differ despite semantic equality: %q vs %q", p1.Canonical(), p2.Canonical())
	}
	if p1.Fingerprint() != p2.Fingerprint() {
		t.Fatalf("fingerprints differ despite equal canonical forms")
	}
}

func TestFingerprintDiffersOnIsolationChange(t *testing.T) {
	base, _ := FromOptions(Options{Net: "none", CPUMillis: 1000, MemMB: 128})
	other, _ := FromOptions(Options{Net: "https-only", CPUMillis: 1000, MemMB: 128})
	if base.Fingerprint() == other.Fingerprint() {
		t.Fatal("expected distinct fingerprints for distinct net policies")
	}
}

func TestFingerprintIsSixteenHexChars(t *testing.T) {
	p, _ := FromOptions(Options{})
	fp := p.Fingerprint()
	if len(fp) != 16 {
		t.Fatalf("expected 16-char fingerprint, got %d: %q", len(fp), fp)
	}
}
