package nl2sql

import (
	"context"

	"github.com/querypilot/querypilot/internal/schema"
)

type Tier string

const (
	TierLow  Tier = "low"
	TierHigh Tier = "high"
)

type Request struct {
	Question string
	Schema   schema.Schema
	Context  Context
	Tier     Tier
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Plan, error)
	Model(tier Tier) string
}
