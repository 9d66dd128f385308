package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

func someIds(n int) []id.ParticipantId {
	out := make([]id.ParticipantId, n)
	for i := range out {
		out[i] = id.New()
	}
	return out
}

// P3: Select returns a subset of waiting of size min(minCount,
// len(waiting)) with no duplicates.
func TestSelectSizeAndNoDuplicates(t *testing.T) {
	sel := Random{Rand: rand.New(rand.NewSource(1))}
	waiting := someIds(10)

	for _, minCount := range []int{0, 1, 5, 10, 20} {
		chosen := sel.Select(minCount, waiting, nil)

		want := minCount
		if want > len(waiting) {
			want = len(waiting)
		}
		assert.Lenf(t, chosen, want, "minCount=%d", minCount)

		seen := map[id.ParticipantId]bool{}
		waitingSet := map[id.ParticipantId]bool{}
		for _, pid := range waiting {
			waitingSet[pid] = true
		}
		for _, pid := range chosen {
			assert.Falsef(t, seen[pid], "duplicate id %s in selection", pid)
			seen[pid] = true
			assert.Truef(t, waitingSet[pid], "selected id %s is not in waiting", pid)
		}
	}
}

func TestSelectEmptyWaiting(t *testing.T) {
	sel := Random{Rand: rand.New(rand.NewSource(1))}
	assert.Empty(t, sel.Select(3, nil, nil))
}

func TestSelectDeterministicWithSeededRand(t *testing.T) {
	waiting := someIds(8)

	sel1 := Random{Rand: rand.New(rand.NewSource(42))}
	sel2 := Random{Rand: rand.New(rand.NewSource(42))}

	assert.Equal(t, sel1.Select(4, waiting, nil), sel2.Select(4, waiting, nil))
}
