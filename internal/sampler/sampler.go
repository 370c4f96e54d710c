package sampler

import (
	"errors"
	"math/rand"
	"sort"
	"time"
)

// ErrInsufficientPool is returned by the duel draws when a participant
// pool (or the common pool) cannot supply the required word count.
var ErrInsufficientPool = errors.New("insufficient word pool")

// ScoredWord is one proficiency-annotated word from an account's pool.
type ScoredWord struct {
	WordID       int64
	Score        int
	AttemptCount int
}

// Score bands. Words at masteredScore and above are never sampled.
const (
	masteredScore = 100
	weakBound     = 50
	mediumBound   = 80
)

// Target proportions per stratum, in tenths, applied to the requested
// count with ceil rounding.
const (
	weakTenths   = 7
	mediumTenths = 2
	strongTenths = 1
)

// Sampler selects practice words by proficiency stratum.
type Sampler struct {
	rng *rand.Rand
}

// New returns a Sampler using rng, or a time-seeded source when rng is
// nil. Tests inject a fixed seed.
func New(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{rng: rng}
}

// Sample returns up to n word ids from pool, stratified 70/20/10 across
// weak/medium/strong bands, preferring least-practiced words within each
// band, with deficits redistributed to the strata that can absorb them.
// The result is shuffled; it is shorter than n only when the eligible
// pool itself is smaller than n.
func (s *Sampler) Sample(pool []ScoredWord, n int) []int64 {
	if n <= 0 {
		return []int64{}
	}

	var weak, medium, strong []ScoredWord
	for _, w := range pool {
		switch {
		case w.Score >= masteredScore:
			// mastered, never re-drilled
		case w.Score < weakBound:
			weak = append(weak, w)
		case w.Score < mediumBound:
			medium = append(medium, w)
		default:
			strong = append(strong, w)
		}
	}

	weakTarget := ceilFrac(n*weakTenths, 10)
	mediumTarget := ceilFrac(n*mediumTenths, 10)
	strongTarget := ceilFrac(n*strongTenths, 10)

	// A short weak stratum pushes its deficit into medium/strong,
	// split by their own target weighting.
	weakTake := minInt(weakTarget, len(weak))
	if deficit := weakTarget - weakTake; deficit > 0 {
		extraMedium := ceilFrac(deficit*mediumTarget, mediumTarget+strongTarget)
		mediumTarget += extraMedium
		strongTarget += deficit - extraMedium
	}
	mediumTake := minInt(mediumTarget, len(medium))
	strongTake := minInt(strongTarget, len(strong))

	// Whatever a stratum could not absorb tops up the others, bounded by
	// their remaining supply, weakest first. The selection comes up short
	// of n only when the eligible pool itself does.
	want := minInt(n, len(weak)+len(medium)+len(strong))
	for weakTake+mediumTake+strongTake < want {
		switch {
		case weakTake < len(weak):
			weakTake++
		case mediumTake < len(medium):
			mediumTake++
		default:
			strongTake++
		}
	}

	selected := s.takeLeastPracticed(weak, weakTake)
	selected = append(selected, s.takeLeastPracticed(medium, mediumTake)...)
	selected = append(selected, s.takeLeastPracticed(strong, strongTake)...)

	s.shuffle(selected)

	// Ceil rounding can overshoot n by a word or two; trimming after the
	// shuffle drops a uniformly random word, not a fixed stratum's.
	if len(selected) > n {
		selected = selected[:n]
	}
	return selected
}

// takeLeastPracticed returns up to count ids from stratum, ascending by
// attempt count. Equal attempt counts are broken randomly: the stratum
// is shuffled before the stable sort.
func (s *Sampler) takeLeastPracticed(stratum []ScoredWord, count int) []int64 {
	if count <= 0 || len(stratum) == 0 {
		return nil
	}

	ordered := make([]ScoredWord, len(stratum))
	copy(ordered, stratum)
	s.rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AttemptCount < ordered[j].AttemptCount
	})

	if count > len(ordered) {
		count = len(ordered)
	}
	ids := make([]int64, 0, count)
	for _, w := range ordered[:count] {
		ids = append(ids, w.WordID)
	}
	return ids
}

// shuffle applies a uniform Fisher-Yates pass.
func (s *Sampler) shuffle(ids []int64) {
	s.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilFrac(num, den int) int {
	if den <= 0 {
		return 0
	}
	return (num + den - 1) / den
}
