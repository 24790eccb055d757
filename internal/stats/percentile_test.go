package stats

import "testing"

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{100, 30, 10, 80, 20, 60, 40, 90, 50, 70}

	p90, ok := Percentile(values, 90)
	if !ok || p90 != 90 {
		t.Fatalf("expected p90=90, got %v (ok=%v)", p90, ok)
	}
	p99, ok := Percentile(values, 99)
	if !ok || p99 != 100 {
		t.Fatalf("expected p99=100, got %v (ok=%v)", p99, ok)
	}
	if values[0] != 100 {
		t.Fatal("input slice must not be reordered")
	}
}

func TestPercentileSingleValue(t *testing.T) {
	for _, p := range []float64{90, 99} {
		got, ok := Percentile([]float64{42}, p)
		if !ok || got != 42 {
			t.Fatalf("p%v: expected 42, got %v (ok=%v)", p, got, ok)
		}
	}
}

func TestPercentileEmpty(t *testing.T) {
	if _, ok := Percentile(nil, 90); ok {
		t.Fatal("expected no percentile for empty input")
	}
	if got := Percentiles(nil, 90, 99); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestPercentileClampsBounds(t *testing.T) {
	values := []float64{5, 1, 3}
	if got, _ := Percentile(values, 0); got != 1 {
		t.Fatalf("p0: expected 1, got %v", got)
	}
	if got, _ := Percentile(values, 100); got != 5 {
		t.Fatalf("p100: expected 5, got %v", got)
	}
}

func TestPercentilesMatchesSingleCalls(t *testing.T) {
	values := make([]float64, 0, 250)
	for i := 250; i > 0; i-- {
		values = append(values, float64(i)*1.5)
	}
	got := Percentiles(values, 90, 99)
	for i, p := range []float64{90, 99} {
		want, _ := Percentile(values, p)
		if got[i] != want {
			t.Fatalf("p%v: expected %v, got %v", p, want, got[i])
		}
	}
}
