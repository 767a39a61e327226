package evaluator

import (
	"context"
	"errors"

	"github.com/nidhogg/nuka-mind/internal/dma"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

// Endpoint paths, relative to the configured base URL.
const (
	PathPrincipled      = "/v1/dma/principled"
	PathCommonSense     = "/v1/dma/common-sense"
	PathDomain          = "/v1/dma/domain"
	PathActionSelection = "/v1/dma/action-selection"
	PathEntropy         = "/v1/conscience/entropy"
	PathCoherence       = "/v1/conscience/coherence"
	PathVeto            = "/v1/conscience/optimization-veto"
	PathHumility        = "/v1/conscience/epistemic-humility"
)

type principled struct{ c *Client }

func (p principled) Evaluate(ctx context.Context, in *dma.Input) (*dma.Result, error) {
	return p.c.evaluate(ctx, PathPrincipled, dma.NamePrincipled, in)
}

type commonSense struct{ c *Client }

func (p commonSense) EvaluateThought(ctx context.Context, in *dma.Input) (*dma.Result, error) {
	return p.c.evaluate(ctx, PathCommonSense, dma.NameCommonSense, in)
}

type domain struct{ c *Client }

func (p domain) EvaluateThought(ctx context.Context, in *dma.Input) (*dma.Result, error) {
	return p.c.evaluate(ctx, PathDomain, dma.NameDomain, in)
}

type selector struct{ c *Client }

func (s selector) Evaluate(ctx context.Context, agg *dma.Aggregate) (*thought.ActionSelectionResult, error) {
	var out thought.ActionSelectionResult
	if err := s.c.post(ctx, PathActionSelection, agg, &out); err != nil {
		return nil, err
	}
	if out.SelectedAction == "" {
		return nil, errors.New("action selection returned no action")
	}
	return &out, nil
}

// Evaluators returns the full DMA set backed by this service.
func (c *Client) Evaluators() dma.Evaluators {
	return dma.Evaluators{
		Principled:  principled{c},
		CommonSense: commonSense{c},
		Domain:      domain{c},
		Selector:    selector{c},
	}
}

func (c *Client) evaluate(ctx context.Context, path, name string, in *dma.Input) (*dma.Result, error) {
	var out dma.Result
	if err := c.post(ctx, path, in, &out); err != nil {
		return nil, err
	}
	if out.Algorithm == "" {
		out.Algorithm = name
	}
	return &out, nil
}
