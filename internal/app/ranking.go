package app

import (
	"sort"

	"quiz-session-engine/internal/domain"
)

// TierBand labels a rank-percentile bucket. Cosmetic only; no effect on scores.
type TierBand struct {
	Name          string
	MaxPercentile float64 // rank/total at or below which the band applies
}

// DefaultTiers is the shipped banding; deployments may override it.
func DefaultTiers() []TierBand {
	return []TierBand{
		{Name: "gold", MaxPercentile: 0.10},
		{Name: "silver", MaxPercentile: 0.25},
		{Name: "bronze", MaxPercentile: 0.50},
		{Name: "participant", MaxPercentile: 1.0},
	}
}

// Rank sorts participants by score descending and assigns competition ranks:
// ties share a rank and the next distinct score resumes at its list position,
// so scores [90,90,80] rank [1,1,3].
func Rank(participants []domain.Participant, bands []TierBand) []domain.RankedEntry {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		// Tie-break ordering only; tied entries still share a rank.
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].DisplayName < sorted[j].DisplayName
	})

	entries := make([]domain.RankedEntry, len(sorted))
	total := len(sorted)
	for i, p := range sorted {
		rank := i + 1
		if i > 0 && p.Score == sorted[i-1].Score {
			rank = entries[i-1].Rank
		}
		entries[i] = domain.RankedEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Rank:          rank,
			Tier:          tierFor(rank, total, bands),
		}
	}
	return entries
}

// AroundMe returns up to window contiguous entries centered on the caller,
// shifted toward the populated side near either end of the list.
func AroundMe(ranked []domain.RankedEntry, selfID string, window int) []domain.RankedEntry {
	if window <= 0 || len(ranked) == 0 {
		return nil
	}
	self := -1
	for i, entry := range ranked {
		if entry.ParticipantID == selfID {
			self = i
			break
		}
	}
	if self < 0 {
		return nil
	}
	if window >= len(ranked) {
		out := make([]domain.RankedEntry, len(ranked))
		copy(out, ranked)
		return out
	}
	start := self - window/2
	if start < 0 {
		start = 0
	}
	if start+window > len(ranked) {
		start = len(ranked) - window
	}
	out := make([]domain.RankedEntry, window)
	copy(out, ranked[start:start+window])
	return out
}

func tierFor(rank, total int, bands []TierBand) string {
	if total == 0 || len(bands) == 0 {
		return ""
	}
	percentile := float64(rank) / float64(total)
	for _, band := range bands {
		if percentile <= band.MaxPercentile {
			return band.Name
		}
	}
	return bands[len(bands)-1].Name
}
