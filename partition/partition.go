// Package partition splits an alphabetically sorted list into a fixed number of
// contiguous groups of similar size without ever splitting a run of names that
// share the same leading letter.
//
// The search minimises the sum of squared group sizes. Among equally good
// partitions the one whose boundary indices come first lexicographically wins,
// so results are reproducible for a given input.
package partition

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrInvalidInput is returned when no partition satisfies the request: the item
// list is empty, fewer than one group was requested, or there are fewer
// leading-letter runs than groups.
var ErrInvalidInput = errors.New("partition: invalid input")

// LeadingLetter returns the uppercased first character of name, or "" for an
// empty name.
func LeadingLetter(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return ""
	}
	return strings.ToUpper(string(r))
}

// Candidates returns the indices at which a group may start: 0, followed by
// every index whose leading letter differs from the previous name's.
func Candidates(names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty item list", ErrInvalidInput)
	}
	idxs := []int{0}
	prev := LeadingLetter(names[0])
	for i := 1; i < len(names); i++ {
		if l := LeadingLetter(names[i]); l != prev {
			idxs = append(idxs, i)
			prev = l
		}
	}
	return idxs, nil
}

// Unbalancedness scores a boundary list that includes the leading 0 and the
// trailing length sentinel: the sum of squared distances between consecutive
// boundaries. Equal-sized groups give the lowest score.
func Unbalancedness(boundaries []int) int {
	score := 0
	for i := 1; i < len(boundaries); i++ {
		gap := boundaries[i] - boundaries[i-1]
		score += gap * gap
	}
	return score
}

// Boundaries returns the start index of each of the groups chosen for names,
// followed by len(names). The result therefore has groups+1 entries.
func Boundaries(names []string, groups int) ([]int, error) {
	cands, err := Candidates(names)
	if err != nil {
		return nil, err
	}
	if groups < 1 {
		return nil, fmt.Errorf("%w: need at least one group, got %d", ErrInvalidInput, groups)
	}
	if groups > len(cands) {
		return nil, fmt.Errorf("%w: %d groups requested but only %d distinct leading letters",
			ErrInvalidInput, groups, len(cands))
	}
	return optimal(cands, len(names), groups), nil
}

// Balanced partitions items (already sorted by name) into exactly groups
// contiguous slices. The slices share the backing array of items.
func Balanced[T any](items []T, name func(T) string, groups int) ([][]T, error) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = name(it)
	}
	bounds, err := Boundaries(names, groups)
	if err != nil {
		return nil, err
	}
	out := make([][]T, 0, groups)
	for i := 1; i < len(bounds); i++ {
		out = append(out, items[bounds[i-1]:bounds[i]:bounds[i]])
	}
	return out, nil
}

// optimal runs a suffix dynamic program over the candidate starts.
//
// cost[g][i] is the minimum score for covering names[cands[i]:n] with g groups
// when the first of them starts at cands[i]. Reconstruction walks forward and
// always takes the smallest next start that keeps the optimum, which yields the
// lexicographically first optimal combination.
func optimal(cands []int, n, groups int) []int {
	k := len(cands)
	cost := make([][]int, groups+1)
	for g := range cost {
		cost[g] = make([]int, k)
		for i := range cost[g] {
			cost[g][i] = math.MaxInt
		}
	}
	for i := 0; i < k; i++ {
		gap := n - cands[i]
		cost[1][i] = gap * gap
	}
	for g := 2; g <= groups; g++ {
		// The first group starts at i; at least g-1 more starts must follow it.
		for i := 0; i+g-1 < k; i++ {
			best := math.MaxInt
			for j := i + 1; j+g-2 < k; j++ {
				if cost[g-1][j] == math.MaxInt {
					continue
				}
				gap := cands[j] - cands[i]
				if c := gap*gap + cost[g-1][j]; c < best {
					best = c
				}
			}
			cost[g][i] = best
		}
	}

	bounds := make([]int, 0, groups+1)
	bounds = append(bounds, 0)
	i := 0
	for g := groups; g > 1; g-- {
		for j := i + 1; j < k; j++ {
			if cost[g-1][j] == math.MaxInt {
				continue
			}
			gap := cands[j] - cands[i]
			if gap*gap+cost[g-1][j] == cost[g][i] {
				bounds = append(bounds, cands[j])
				i = j
				break
			}
		}
	}
	return append(bounds, n)
}
