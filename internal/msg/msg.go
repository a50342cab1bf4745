// Package msg encodes and decodes ledger messages on the wire.
//
// Commands and queries are externally tagged JSON objects with exactly one
// snake_case key naming the variant:
//
//	{"create_poll":{"question":"Do you like Cosmos?"}}
//	{"vote":{"question":"Do you like Cosmos?","choice":"yes"}}
//	{"get_poll":{"question":"Do you like Cosmos?"}}
//	{"get_config":{}}
//
// The instantiate message is a plain object: {"admin_address":"addr"}.
package msg

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
)

const (
	TagInstantiate     = "instantiate"
	TagCreatePoll      = "create_poll"
	TagVote            = "vote"
	TagGetPoll         = "get_poll"
	TagGetConfig       = "get_config"
	TagGetContractInfo = "get_contract_info"
)

// DecodeInstantiate parses an instantiate message.
func DecodeInstantiate(data []byte) (domain.InstantiateMsg, error) {
	var m domain.InstantiateMsg
	if err := decodeStrict(data, &m); err != nil {
		return domain.InstantiateMsg{}, err
	}
	return m, nil
}

// DecodeExecute parses a command.
func DecodeExecute(data []byte) (domain.Command, error) {
	tag, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagCreatePoll:
		var c domain.CreatePoll
		return decodeVariant(tag, body, c)
	case TagVote:
		var c domain.Vote
		return decodeVariant(tag, body, c)
	default:
		return nil, fmt.Errorf("%w: execute variant %q", domain.ErrUnsupportedMessage, tag)
	}
}

// DecodeQuery parses a query.
func DecodeQuery(data []byte) (domain.Query, error) {
	tag, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagGetPoll:
		var q domain.GetPoll
		return decodeVariant(tag, body, q)
	case TagGetConfig:
		var q domain.GetConfig
		return decodeVariant(tag, body, q)
	case TagGetContractInfo:
		var q domain.GetContractInfo
		return decodeVariant(tag, body, q)
	default:
		return nil, fmt.Errorf("%w: query variant %q", domain.ErrUnsupportedMessage, tag)
	}
}

// EncodeExecute renders a command in its tagged form.
func EncodeExecute(cmd domain.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case domain.CreatePoll:
		return json.Marshal(map[string]any{TagCreatePoll: c})
	case domain.Vote:
		return json.Marshal(map[string]any{TagVote: c})
	default:
		return nil, fmt.Errorf("%w: command %T", domain.ErrUnsupportedMessage, cmd)
	}
}

// EncodeQuery renders a query in its tagged form.
func EncodeQuery(q domain.Query) ([]byte, error) {
	switch c := q.(type) {
	case domain.GetPoll:
		return json.Marshal(map[string]any{TagGetPoll: c})
	case domain.GetConfig:
		return json.Marshal(map[string]any{TagGetConfig: c})
	case domain.GetContractInfo:
		return json.Marshal(map[string]any{TagGetContractInfo: c})
	default:
		return nil, fmt.Errorf("%w: query %T", domain.ErrUnsupportedMessage, q)
	}
}

func splitVariant(data []byte) (string, json.RawMessage, error) {
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(data, &variants); err != nil {
		return "", nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	if len(variants) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", domain.ErrMalformedMessage, len(variants))
	}

	var tag string
	for k := range variants {
		tag = k
	}
	return tag, variants[tag], nil
}

func decodeVariant[T any](tag string, body json.RawMessage, v T) (T, error) {
	if err := decodeStrict(body, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", tag, err)
	}
	return v, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", domain.ErrMalformedMessage)
	}
	return nil
}
