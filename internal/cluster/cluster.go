// Package cluster groups a small batch of embedded items by cosine
// similarity to a group seed. It is independent of the incremental dedup
// path and meant for batches of a few hundred items.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

var (
	ErrEmptyEmbedding    = errors.New("embedding is empty")
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
)

type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text,omitempty"`
	Embedding []float64 `json:"embedding"`
}

type Group struct {
	Seed    string   `json:"seed"`
	Members []string `json:"members"`
}

// Cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Matrix computes the full symmetric pairwise similarity matrix.
func Matrix(items []Item) ([][]float64, error) {
	if err := validate(items); err != nil {
		return nil, err
	}
	n := len(items)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := Cosine(items[i].Embedding, items[j].Embedding)
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m, nil
}

// Greedy scans items in input order. Each unvisited item seeds a group that
// absorbs every later unvisited item whose similarity to the seed exceeds
// threshold. Similarity to other members is not considered.
func Greedy(items []Item, threshold float64) ([]Group, error) {
	m, err := Matrix(items)
	if err != nil {
		return nil, err
	}

	visited := make([]bool, len(items))
	groups := make([]Group, 0, len(items))
	for i := range items {
		if visited[i] {
			continue
		}
		visited[i] = true
		g := Group{Seed: items[i].ID, Members: []string{items[i].ID}}
		for j := i + 1; j < len(items); j++ {
			if !visited[j] && m[i][j] > threshold {
				visited[j] = true
				g.Members = append(g.Members, items[j].ID)
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// DecodeItems reads a JSON array of items.
func DecodeItems(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode cluster items: %w", err)
	}
	return items, validate(items)
}

func validate(items []Item) error {
	dim := -1
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d: id is required", i)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("item %d: duplicate id %q", i, it.ID)
		}
		seen[it.ID] = struct{}{}
		if len(it.Embedding) == 0 {
			return fmt.Errorf("item %s: %w", it.ID, ErrEmptyEmbedding)
		}
		if dim == -1 {
			dim = len(it.Embedding)
		} else if len(it.Embedding) != dim {
			return fmt.Errorf("item %s: %w (%d vs %d)", it.ID, ErrDimensionMismatch, len(it.Embedding), dim)
		}
	}
	return nil
}
