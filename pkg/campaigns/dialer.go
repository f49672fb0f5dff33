package campaigns

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/leads"
)

// DialRequest is one outbound call to place
type DialRequest struct {
	Lead   *leads.Lead
	Agent  *VoiceAgent
	Script string
}

// DialResult is what came back from the call gateway
type DialResult struct {
	Outcome         CallOutcome
	DurationSeconds int64
	Transcript      string
	Recording       []byte
}

// Dialer places one call and reports its result. The production
// implementation talks to a telephony gateway; SimulatedDialer stands
// in for it everywhere else.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (*DialResult, error)
}

// SimulatedDialer produces plausible call results from a seedable
// random source. With a fixed seed the sequence of outcomes is
// deterministic, which the dispatcher tests rely on.
type SimulatedDialer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedDialer creates a simulated dialer with the given seed
func NewSimulatedDialer(seed int64) *SimulatedDialer {
	return &SimulatedDialer{rng: rand.New(rand.NewSource(seed))}
}

// Dial simulates one call. Outcome distribution: 50% answered,
// 20% no answer, 15% voicemail, 10% busy, 5% failed.
func (d *SimulatedDialer) Dial(ctx context.Context, req DialRequest) (*DialResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	roll := d.rng.Intn(100)
	duration := int64(30 + d.rng.Intn(270))
	d.mu.Unlock()

	result := &DialResult{}
	switch {
	case roll < 50:
		result.Outcome = OutcomeAnswered
		result.DurationSeconds = duration
		result.Transcript = fmt.Sprintf(
			"Agent %s: %s\nLead %s %s: I'd like to hear more, please call back with details.",
			req.Agent.Name, req.Script, req.Lead.FirstName, req.Lead.LastName)
		result.Recording = simulatedRecording(req, duration)
	case roll < 70:
		result.Outcome = OutcomeNoAnswer
	case roll < 85:
		result.Outcome = OutcomeVoicemail
		result.DurationSeconds = 20
		result.Transcript = fmt.Sprintf("Agent %s left a voicemail.", req.Agent.Name)
		result.Recording = simulatedRecording(req, 20)
	case roll < 95:
		result.Outcome = OutcomeBusy
	default:
		result.Outcome = OutcomeFailed
	}
	return result, nil
}

func simulatedRecording(req DialRequest, duration int64) []byte {
	header := fmt.Sprintf("SIMWAV lead=%d agent=%d duration=%ds at=%d",
		req.Lead.ID, req.Agent.ID, duration, time.Now().Unix())
	return []byte(header)
}
