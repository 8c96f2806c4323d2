package rights

import (
	"context"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// StaticAssigner hands every user the same assignment. It serves
// deployments without a rules file and tests.
type StaticAssigner struct {
	Result domain.RightsResult
}

// NewStaticAssigner creates an assigner returning the given result for
// every input.
func NewStaticAssigner(result domain.RightsResult) *StaticAssigner {
	return &StaticAssigner{Result: result}
}

func (a *StaticAssigner) Assign(_ context.Context, _ domain.RightsInput) (*domain.RightsResult, error) {
	out := a.Result
	return &out, nil
}

var _ ports.RightsAssigner = (*StaticAssigner)(nil)
