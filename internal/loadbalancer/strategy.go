package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type Strategy interface {
	// Next selects a target from the available set.
	Next(targets []string) string

	// Name returns the strategy name.
	Name() string
}

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := targets[r.current%len(targets)]
	r.current++

	return target
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}

type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return targets[r.rng.Intn(len(targets))]
}

func (r *Random) Name() string {
	return "random"
}
