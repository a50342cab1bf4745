package ledger

import (
	"context"

	"github.com/pscheid92/pollbook/internal/domain"
)

// CreatePoll registers a new poll with zeroed counters. The question is used
// verbatim as the key.
func CreatePoll(ctx context.Context, kv domain.KVStore, question string) (*domain.Response, error) {
	exists, err := pollsMap.has(ctx, kv, question)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateKey
	}

	poll := domain.Poll{Question: question}
	if err := pollsMap.save(ctx, kv, question, poll); err != nil {
		return nil, err
	}

	return domain.NewActionResponse(domain.ActionCreatePoll), nil
}

// Vote adds one vote to an existing poll. The poll must exist and choice must
// be exactly "yes" or "no"; otherwise nothing is written.
func Vote(ctx context.Context, kv domain.KVStore, question, choice string) (*domain.Response, error) {
	exists, err := pollsMap.has(ctx, kv, question)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrPollNotFound
	}

	poll, err := pollsMap.load(ctx, kv, question)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseChoice(choice)
	if err != nil {
		return nil, err
	}

	switch parsed {
	case domain.ChoiceYes:
		poll.YesVotes++
	case domain.ChoiceNo:
		poll.NoVotes++
	}

	if err := pollsMap.save(ctx, kv, question, poll); err != nil {
		return nil, err
	}

	return domain.NewActionResponse(domain.ActionVote), nil
}

// GetPoll returns the poll for question, or nil if none exists.
func GetPoll(ctx context.Context, kv domain.KVStore, question string) (*domain.Poll, error) {
	return pollsMap.mayLoad(ctx, kv, question)
}
