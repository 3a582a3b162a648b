package pricing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardSingleFlight(t *testing.T) {
	g := NewGuard()

	assert.True(t, g.CanSync("prices:usd"))

	g.StartSync("prices:usd")
	assert.False(t, g.CanSync("prices:usd"), "second check before EndSync must be refused")
	assert.True(t, g.CanSync("prices:eur"), "other keys are independent")

	g.EndSync("prices:usd")
	assert.True(t, g.CanSync("prices:usd"), "key is free again after EndSync")
}

func TestGuardEndSyncWithoutStart(t *testing.T) {
	g := NewGuard()
	g.EndSync("never-started")
	assert.True(t, g.CanSync("never-started"))
}

func TestGuardTryStart(t *testing.T) {
	g := NewGuard()

	assert.True(t, g.TryStart("k"))
	assert.False(t, g.TryStart("k"))

	g.EndSync("k")
	assert.True(t, g.TryStart("k"))
}

func TestGuardTryStartConcurrent(t *testing.T) {
	g := NewGuard()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryStart("k") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may win the key")
}
