package policy

import (
	"fmt"
	"sort"
)

// privilegedLevels are ladder levels that are privileged regardless of the descriptor flag.
var privilegedLevels = map[string]bool{
	"CMD": true,
	"CCM": true,
	"LDR": true,
}

// DefaultLevel is the level assigned when a descriptor omits one.
const DefaultLevel = "LR"

// Rank is one rung of the progression ladder.
type Rank struct {
	Name         string `json:"name" yaml:"name"`
	MinPoints    int64  `json:"minPoints" yaml:"minPoints"`
	MinTimeDays  int64  `json:"minTimeDays" yaml:"minTimeDays"`
	Level        string `json:"level" yaml:"level"`
	Privileged   bool   `json:"privileged" yaml:"privileged"`
	IsPunishment bool   `json:"isPunishment" yaml:"isPunishment"`
	RoleID       *int64 `json:"roleId,omitempty" yaml:"roleId,omitempty"`
}

// RankPolicy is the immutable, ordered rank ladder. It is safe for concurrent use.
type RankPolicy struct {
	ranks []Rank
	index map[string]int
}

// New builds a policy from descriptors, sorting them by MinPoints. Descriptors
// with equal thresholds keep their input order.
func New(ranks []Rank) (*RankPolicy, error) {
	if len(ranks) == 0 {
		return nil, fmt.Errorf("rank policy: no ranks defined")
	}

	ordered := make([]Rank, len(ranks))
	copy(ordered, ranks)
	for i := range ordered {
		r := &ordered[i]
		if r.Name == "" {
			return nil, fmt.Errorf("rank policy: rank at position %d has no name", i)
		}
		if r.MinPoints < 0 {
			return nil, fmt.Errorf("rank policy: rank %q has negative minPoints", r.Name)
		}
		if r.Level == "" {
			r.Level = DefaultLevel
		}
		if privilegedLevels[r.Level] {
			r.Privileged = true
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinPoints < ordered[j].MinPoints
	})

	index := make(map[string]int, len(ordered))
	for i, r := range ordered {
		if _, dup := index[r.Name]; dup {
			return nil, fmt.Errorf("rank policy: duplicate rank name %q", r.Name)
		}
		index[r.Name] = i
	}
	return &RankPolicy{ranks: ordered, index: index}, nil
}

// Ranks returns a copy of the ordered ladder.
func (p *RankPolicy) Ranks() []Rank {
	out := make([]Rank, len(p.ranks))
	copy(out, p.ranks)
	return out
}

// RankByName looks up a rank by exact name.
func (p *RankPolicy) RankByName(name string) (Rank, bool) {
	i, ok := p.index[name]
	if !ok {
		return Rank{}, false
	}
	return p.ranks[i], true
}

// RankForPoints returns the highest rank whose threshold is at or below points.
// Punishment ranks are not skipped here.
func (p *RankPolicy) RankForPoints(points int64) (Rank, bool) {
	found := -1
	for i, r := range p.ranks {
		if points < r.MinPoints {
			break
		}
		found = i
	}
	if found < 0 {
		return Rank{}, false
	}
	return p.ranks[found], true
}

// NextRankForPoints returns the first non-punishment rank whose threshold is above points.
func (p *RankPolicy) NextRankForPoints(points int64) (Rank, bool) {
	for _, r := range p.ranks {
		if points < r.MinPoints && !r.IsPunishment {
			return r, true
		}
	}
	return Rank{}, false
}

// PreviousRankForPoints returns the non-punishment rank below the rank earned by points.
func (p *RankPolicy) PreviousRankForPoints(points int64) (Rank, bool) {
	current, ok := p.RankForPoints(points)
	if !ok {
		return Rank{}, false
	}
	return p.PreviousRankByName(current.Name)
}

// NextRankByName walks up the ladder from name, skipping punishment ranks.
func (p *RankPolicy) NextRankByName(name string) (Rank, bool) {
	i, ok := p.index[name]
	if !ok {
		return Rank{}, false
	}
	for i++; i < len(p.ranks); i++ {
		if !p.ranks[i].IsPunishment {
			return p.ranks[i], true
		}
	}
	return Rank{}, false
}

// PreviousRankByName walks down the ladder from name, skipping punishment ranks.
func (p *RankPolicy) PreviousRankByName(name string) (Rank, bool) {
	i, ok := p.index[name]
	if !ok {
		return Rank{}, false
	}
	for i--; i >= 0; i-- {
		if !p.ranks[i].IsPunishment {
			return p.ranks[i], true
		}
	}
	return Rank{}, false
}

// IsPrivileged reports whether name is a known privileged rank.
func (p *RankPolicy) IsPrivileged(name string) bool {
	r, ok := p.RankByName(name)
	return ok && r.Privileged
}
