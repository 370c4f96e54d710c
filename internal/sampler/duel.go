package sampler

// DuelWordsPerSide is the default draw size per participant.
const DuelWordsPerSide = 10

// DrawClassic draws perSide words uniformly from each participant's own
// eligible pool and returns the shuffled concatenation. Both pools must
// hold at least perSide non-mastered words.
func (s *Sampler) DrawClassic(challengerPool, opponentPool []ScoredWord, perSide int) ([]int64, error) {
	a := eligible(challengerPool)
	b := eligible(opponentPool)
	if len(a) < perSide || len(b) < perSide {
		return nil, ErrInsufficientPool
	}

	ids := append(s.drawUniform(a, perSide), s.drawUniform(b, perSide)...)
	s.shuffle(ids)
	return ids, nil
}

// DrawMatchCommon draws count words uniformly from the intersection of
// the two participants' eligible pools.
func (s *Sampler) DrawMatchCommon(challengerPool, opponentPool []ScoredWord, count int) ([]int64, error) {
	inOpponent := make(map[int64]bool, len(opponentPool))
	for _, w := range eligible(opponentPool) {
		inOpponent[w.WordID] = true
	}

	var common []ScoredWord
	for _, w := range eligible(challengerPool) {
		if inOpponent[w.WordID] {
			common = append(common, w)
		}
	}
	if len(common) < count {
		return nil, ErrInsufficientPool
	}

	ids := s.drawUniform(common, count)
	s.shuffle(ids)
	return ids, nil
}

// drawUniform picks count distinct words uniformly at random. The caller
// has already checked len(pool) >= count.
func (s *Sampler) drawUniform(pool []ScoredWord, count int) []int64 {
	perm := s.rng.Perm(len(pool))
	ids := make([]int64, 0, count)
	for _, i := range perm[:count] {
		ids = append(ids, pool[i].WordID)
	}
	return ids
}

func eligible(pool []ScoredWord) []ScoredWord {
	out := make([]ScoredWord, 0, len(pool))
	for _, w := range pool {
		if w.Score < masteredScore {
			out = append(out, w)
		}
	}
	return out
}
