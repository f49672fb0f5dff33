package campaigns

import "math/rand"

// PickAgent selects a voice agent by cumulative weight. Zero and
// negative weights never win. Returns nil when the pool holds no
// positive weight.
func PickAgent(agents []*VoiceAgent, rng *rand.Rand) *VoiceAgent {
	total := 0
	for _, agent := range agents {
		if agent.Weight > 0 {
			total += agent.Weight
		}
	}
	if total == 0 {
		return nil
	}

	pick := rng.Intn(total)
	cumulative := 0
	for _, agent := range agents {
		if agent.Weight <= 0 {
			continue
		}
		cumulative += agent.Weight
		if pick < cumulative {
			return agent
		}
	}
	return nil
}
