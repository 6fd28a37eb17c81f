package utils

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(vec1), len(vec2))
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dotProduct, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)

	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return dotProduct / (mag1 * mag2), nil
}

// Normalize scales vec to unit length in place. Zero vectors are left untouched.
func Normalize(vec []float32) {
	mag := magnitude(vec)
	if mag == 0 {
		return
	}
	for i := range vec {
		vec[i] /= mag
	}
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Words lowercases s and splits it into letter/digit runs.
func Words(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// LexicalOverlap is the Ochiai coefficient |A∩B| / sqrt(|A||B|) over the word sets of a and b.
func LexicalOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(setA))*float64(len(setB)))
}

func wordSet(s string) map[string]struct{} {
	words := Words(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
