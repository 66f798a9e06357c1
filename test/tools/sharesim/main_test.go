package main

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"1280x720", 1280, 720, false},
		{"320x180", 320, 180, false},
		{"16x16", 16, 16, false},
		{"1280", 0, 0, true},
		{"x720", 0, 0, true},
		{"1280x", 0, 0, true},
		{"axb", 0, 0, true},
		{"8x8", 0, 0, true},
		{"-640x360", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseSize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSize(%q) = %dx%d, want error", tt.in, w, h)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSize(%q): %v", tt.in, err)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
			}
		})
	}
}
