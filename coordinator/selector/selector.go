// Package selector implements component C3: the pure function that
// picks which Waiting participants to promote to Selected at the
// start of a round phase.
package selector

import (
	"math/rand"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

// Selector picks participants to select for a round phase. Select
// must be deterministic given its RNG source. selected is provided so
// alternative policies (stratified, sticky re-selection) can consult
// the existing selection; implementations are free to ignore it.
type Selector interface {
	Select(minCount int, waiting, selected []id.ParticipantId) []id.ParticipantId
}

// Random is the default Selector: it samples minCount distinct ids
// uniformly from waiting without replacement, ignoring selected. If
// fewer than minCount are waiting, it returns as many as are
// available rather than failing, mirroring the reference
// implementation's `choose_multiple`.
type Random struct {
	// Rand, if non-nil, is used instead of the package-level source.
	// Tests inject a seeded *rand.Rand for determinism.
	Rand *rand.Rand
}

var _ Selector = Random{}

// Select implements Selector.
func (s Random) Select(minCount int, waiting, _selected []id.ParticipantId) []id.ParticipantId {
	n := len(waiting)
	if minCount > n {
		minCount = n
	}

	r := s.Rand
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}

	// Partial Fisher-Yates: shuffle only the first minCount slots of a
	// copy, which samples minCount distinct elements uniformly without
	// needing to shuffle the whole slice.
	pool := make([]id.ParticipantId, n)
	copy(pool, waiting)
	for i := 0; i < minCount; i++ {
		j := i + r.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	out := make([]id.ParticipantId, minCount)
	copy(out, pool[:minCount])
	return out
}
