package database

import "testing"

func TestBox_Clamp(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want Box
	}{
		{"inside", Box{10, 10, 50, 60}, Box{10, 10, 50, 60}},
		{"negative origin", Box{-20, -5, 80, 80}, Box{0, 0, 80, 80}},
		{"past far edge", Box{150, 150, 260, 230}, Box{150, 150, 200, 200}},
		{"fully outside", Box{250, 250, 300, 300}, Box{200, 200, 200, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.box.Clamp(200, 200)
			if got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.box, got, tt.want)
			}
		})
	}
}

func TestBox_AreaAfterClamp(t *testing.T) {
	box := Box{150, 150, 260, 260}
	if box.Area() != 110*110 {
		t.Fatalf("unexpected raw area %v", box.Area())
	}
	if got := box.Clamp(200, 200).Area(); got != 50*50 {
		t.Errorf("expected clamped area 2500, got %v", got)
	}
	if got := (Box{250, 250, 300, 300}).Clamp(200, 200).Area(); got != 0 {
		t.Errorf("expected zero area outside the raster, got %v", got)
	}
}
