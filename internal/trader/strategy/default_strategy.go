package strategy

import (
	"context"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
)

// DefaultStrategy handles signals from sources without a configured policy.
type DefaultStrategy struct{}

func NewDefaultStrategy() *DefaultStrategy {
	return &DefaultStrategy{}
}

func (s *DefaultStrategy) Name() string { return "default" }

func (s *DefaultStrategy) Matches(*entity.Signal) MatchKind { return MatchNone }

func (s *DefaultStrategy) PreCheck(context.Context, *entity.Signal, *Request) error { return nil }

func (s *DefaultStrategy) Execute(context.Context, *entity.Signal, *Request) (dto.Decision, error) {
	return dto.Skip("not implemented", common.CategoryNoStrategy), nil
}
