package faces

import "fmt"

// Noise is the label DBSCAN gives points that belong to no cluster.
const Noise = -1

// DBSCAN clusters points by Euclidean distance. A point is a core point when
// at least minSamples points, itself included, lie within eps of it. Labels
// are assigned in order of the first core point of each cluster, starting
// at 0; points reachable from no core point are Noise.
func DBSCAN(points [][]float32, eps float64, minSamples int) ([]int, error) {
	n := len(points)
	labels := make([]int, n)
	if n == 0 {
		return labels, nil
	}

	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has %d dimensions, want %d", i, len(p), dim)
		}
	}

	eps2 := eps * eps
	neighbors := make([][]int, n)
	for i := range n {
		for j := i; j < n; j++ {
			if squaredDistance(points[i], points[j]) <= eps2 {
				neighbors[i] = append(neighbors[i], j)
				if j != i {
					neighbors[j] = append(neighbors[j], i)
				}
			}
		}
	}

	for i := range labels {
		labels[i] = Noise
	}

	cluster := 0
	for i := range n {
		if labels[i] != Noise || len(neighbors[i]) < minSamples {
			continue
		}
		labels[i] = cluster
		queue := []int{i}
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if len(neighbors[p]) < minSamples {
				continue
			}
			for _, q := range neighbors[p] {
				if labels[q] == Noise {
					labels[q] = cluster
					queue = append(queue, q)
				}
			}
		}
		cluster++
	}
	return labels, nil
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// ClusterCount returns the number of distinct non-noise labels.
func ClusterCount(labels []int) int {
	highest := Noise
	for _, l := range labels {
		highest = max(highest, l)
	}
	return highest + 1
}
