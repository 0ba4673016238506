package faces

import (
	"slices"
	"testing"
)

func TestDBSCAN(t *testing.T) {
	tests := []struct {
		name       string
		points     [][]float32
		eps        float64
		minSamples int
		want       []int
	}{
		{"empty", nil, 0.8, 3, []int{}},
		{
			"single cluster",
			[][]float32{{0, 0}, {0.1, 0}, {0, 0.1}},
			0.5, 3,
			[]int{0, 0, 0},
		},
		{
			"min samples counts the point itself",
			[][]float32{{0, 0}, {0.1, 0}},
			0.5, 3,
			[]int{Noise, Noise},
		},
		{
			"two clusters and noise",
			[][]float32{{10, 10}, {0, 0}, {0.1, 0}, {10.1, 10}, {0, 0.1}, {10, 10.1}, {50, 50}},
			0.5, 3,
			[]int{0, 1, 1, 0, 1, 0, Noise},
		},
		{
			"border point joins the cluster",
			[][]float32{{0, 0}, {0.4, 0}, {-0.4, 0}, {0.8, 0}},
			0.45, 3,
			[]int{0, 0, 0, 0},
		},
		{
			"chain through core points",
			[][]float32{{0, 0}, {0.3, 0}, {0.6, 0}, {0.9, 0}, {1.2, 0}},
			0.35, 3,
			[]int{0, 0, 0, 0, 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DBSCAN(tc.points, tc.eps, tc.minSamples)
			if err != nil {
				t.Fatalf("DBSCAN: %v", err)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("DBSCAN = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestDBSCAN_DimensionMismatch(t *testing.T) {
	if _, err := DBSCAN([][]float32{{0, 0}, {0, 0, 0}}, 0.8, 3); err == nil {
		t.Error("expected error for mixed dimensions")
	}
}

func TestClusterCount(t *testing.T) {
	if n := ClusterCount([]int{Noise, 0, 2, 1}); n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
	if n := ClusterCount([]int{Noise}); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}
