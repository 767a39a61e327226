package evaluator

import (
	"context"

	"github.com/nidhogg/nuka-mind/internal/conscience"
)

type textRequest struct {
	Text string `json:"text"`
}

type actionRequest struct {
	Action string `json:"action"`
}

func (c *Client) Entropy(ctx context.Context, text string) (float64, error) {
	var out struct {
		Entropy float64 `json:"entropy"`
	}
	if err := c.post(ctx, PathEntropy, textRequest{Text: text}, &out); err != nil {
		return 0, err
	}
	return out.Entropy, nil
}

func (c *Client) Coherence(ctx context.Context, text string) (float64, error) {
	var out struct {
		Coherence float64 `json:"coherence"`
	}
	if err := c.post(ctx, PathCoherence, textRequest{Text: text}, &out); err != nil {
		return 0, err
	}
	return out.Coherence, nil
}

func (c *Client) AssessVeto(ctx context.Context, summary string) (*conscience.VetoAssessment, error) {
	var out conscience.VetoAssessment
	if err := c.post(ctx, PathVeto, actionRequest{Action: summary}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssessHumility(ctx context.Context, summary string) (*conscience.HumilityAssessment, error) {
	var out conscience.HumilityAssessment
	if err := c.post(ctx, PathHumility, actionRequest{Action: summary}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checks builds the four conscience checks over this service, in the
// order the registry should run them.
func (c *Client) Checks(entropyMax, coherenceMin, maxRatio float64) []conscience.Check {
	return []conscience.Check{
		conscience.OptimizationVetoCheck{Assessor: c, MaxRatio: maxRatio},
		conscience.EpistemicHumilityCheck{Assessor: c},
		conscience.EntropyCheck{Scorer: c, Threshold: entropyMax},
		conscience.CoherenceCheck{Scorer: c, Threshold: coherenceMin},
	}
}
