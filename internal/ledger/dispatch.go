package ledger

import (
	"context"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
)

// Execute routes a command to its handler.
func Execute(ctx context.Context, kv domain.KVStore, cmd domain.Command) (*domain.Response, error) {
	switch c := cmd.(type) {
	case domain.CreatePoll:
		return CreatePoll(ctx, kv, c.Question)
	case domain.Vote:
		return Vote(ctx, kv, c.Question, c.Choice)
	default:
		return nil, fmt.Errorf("%w: command %T", domain.ErrUnsupportedMessage, cmd)
	}
}

// Query routes a read-only message to its handler. The result is one of
// domain.GetPollResponse, domain.Config or domain.ContractInfo.
func Query(ctx context.Context, kv domain.KVStore, q domain.Query) (any, error) {
	switch c := q.(type) {
	case domain.GetPoll:
		poll, err := GetPoll(ctx, kv, c.Question)
		if err != nil {
			return nil, err
		}
		return domain.GetPollResponse{Poll: poll}, nil
	case domain.GetConfig:
		return GetConfig(ctx, kv)
	case domain.GetContractInfo:
		return GetContractInfo(ctx, kv)
	default:
		return nil, fmt.Errorf("%w: query %T", domain.ErrUnsupportedMessage, q)
	}
}
