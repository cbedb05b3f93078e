package plan

import (
	"context"

	"github.com/xraph/subledger/id"
)

type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetBySlug(ctx context.Context, slug string) (*Plan, error)
	List(ctx context.Context, opts ListOpts) ([]*Plan, error)
	// Supersede archives the old plan and records its successor.
	// The plan row itself is otherwise immutable after creation.
	Supersede(ctx context.Context, oldID, newID id.PlanID) error
	Archive(ctx context.Context, planID id.PlanID) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
