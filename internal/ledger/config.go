package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
)

// Instantiate validates the admin address and stores the config record.
// Calling it again overwrites the previous record.
func Instantiate(ctx context.Context, kv domain.KVStore, validator domain.AddressValidator, msg domain.InstantiateMsg) (*domain.Response, error) {
	admin, err := validator.Validate(msg.AdminAddress)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidAddress) {
			err = fmt.Errorf("%w: %w", domain.ErrInvalidAddress, err)
		}
		return nil, err
	}

	if err := configItem.save(ctx, kv, domain.Config{AdminAddress: admin}); err != nil {
		return nil, err
	}

	return domain.NewActionResponse(domain.ActionInstantiate), nil
}

// GetConfig returns the config record, or domain.ErrConfigNotFound before
// initialization.
func GetConfig(ctx context.Context, kv domain.KVStore) (domain.Config, error) {
	return configItem.load(ctx, kv)
}

// SetContractInfo records which logic initialized the store.
func SetContractInfo(ctx context.Context, kv domain.KVStore, info domain.ContractInfo) error {
	return contractInfoItem.save(ctx, kv, info)
}

func GetContractInfo(ctx context.Context, kv domain.KVStore) (domain.ContractInfo, error) {
	return contractInfoItem.load(ctx, kv)
}
