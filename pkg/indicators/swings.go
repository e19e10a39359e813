package indicators

// Swing local extreme at Index.
type Swing struct {
	Index int
	Price float64
}

// SwingHighs returns bars whose high is strictly greater than the highs of
// the window bars on each side, in index order.
func SwingHighs(highs []float64, window int) ([]Swing, error) {
	return swings(highs, window, func(a, b float64) bool { return a > b })
}

// SwingLows returns bars whose low is strictly less than the lows of
// the window bars on each side, in index order.
func SwingLows(lows []float64, window int) ([]Swing, error) {
	return swings(lows, window, func(a, b float64) bool { return a < b })
}

func swings(values []float64, window int, beats func(a, b float64) bool) ([]Swing, error) {
	if window <= 0 || len(values) < 2*window+1 {
		return nil, insufficient("swings", 2*window+1, len(values))
	}

	var out []Swing
	for i := window; i < len(values)-window; i++ {
		extreme := true
		for j := i - window; j <= i+window; j++ {
			if j != i && !beats(values[i], values[j]) {
				extreme = false
				break
			}
		}
		if extreme {
			out = append(out, Swing{Index: i, Price: values[i]})
		}
	}

	return out, nil
}
