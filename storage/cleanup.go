package storage

import (
	"time"
)

// cleanupExpiredKeys runs the incremental expiry sweep until Close
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.performCleanup()
		}
	}
}

// performCleanup removes expired keys using incremental sampling and
// returns the number of keys removed. Only keys that are already expired
// are deleted, so reads observe the same values with or without the sweep.
func (s *MemoryStorage) performCleanup() int {
	config := s.cleanupConfig
	removed := 0

	for round := 0; round < config.MaxRounds; round++ {
		sampled, expired := s.sweepRound(config.SampleSize)
		removed += expired
		if sampled == 0 {
			break
		}

		expiredRatio := float64(expired) / float64(sampled)
		if expiredRatio < config.ExpiredThreshold {
			break
		}
	}

	return removed
}

// sweepRound samples up to sampleSize keys and deletes the expired ones
func (s *MemoryStorage) sweepRound(sampleSize int) (sampled, expired int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) == 0 {
		return 0, 0
	}

	// Reservoir sampling over the key space
	sample := make([]string, 0, min(sampleSize, len(s.data)))
	i := 0
	for key := range s.data {
		if i < sampleSize {
			sample = append(sample, key)
		} else if j := s.rng.IntN(i + 1); j < sampleSize {
			sample[j] = key
		}
		i++
	}

	now := s.now()
	for _, key := range sample {
		if rec := s.data[key]; !rec.liveAt(now) {
			delete(s.data, key)
			expired++
		}
	}
	return len(sample), expired
}
