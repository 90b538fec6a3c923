package player

const noCandidate = -100000

// SelectRabbit picks the next hunted player from the first n records of
// players. The first pass considers unpaused living non-observers other
// than old; if nobody qualifies, any joined unpaused non-observer
// (including old) may be chosen. The highest Score wins, lowest slot on
// ties. It returns -1 when nobody is eligible.
func SelectRabbit(players []Player, old int) int {
	best, top := -1, noCandidate
	for i := range players {
		p := &players[i]
		if i == old || p.Paused || p.State != Alive || p.IsObserver() {
			continue
		}
		if s := p.Score(); s > top {
			best, top = i, s
		}
	}
	if best >= 0 {
		return best
	}
	for i := range players {
		p := &players[i]
		if !p.Joined() || p.Paused || p.IsObserver() {
			continue
		}
		if s := p.Score(); s > top {
			best, top = i, s
		}
	}
	return best
}
