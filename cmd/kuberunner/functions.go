package main

import (
	"errors"
	"strings"

	"github.com/guardian/kuberunner/packager"
)

type WordCountOptions struct {
	MinLength int
	Lower     bool
}

func add(a int, b int) int {
	return a + b
}

func multiply(a float64, b float64) float64 {
	return a * b
}

func scale(factor float64, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * factor
	}
	return out
}

func wordcount(text string, opts WordCountOptions) (map[string]int, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, errors.New("no words to count")
	}
	counts := make(map[string]int)
	for _, w := range words {
		if len(w) < opts.MinLength {
			continue
		}
		if opts.Lower {
			w = strings.ToLower(w)
		}
		counts[w]++
	}
	return counts, nil
}

// registered at start-up in both the submitting process and the job container
func init() {
	packager.MustRegister("add", add)
	packager.MustRegister("multiply", multiply)
	packager.MustRegister("scale", scale)
	packager.MustRegister("wordcount", wordcount)
}
