package domain

// InstantiateMsg initializes a store.
type InstantiateMsg struct {
	AdminAddress string `json:"admin_address"`
}

// Command is a state-changing message routed to exactly one handler.
type Command interface {
	command()
}

type CreatePoll struct {
	Question string `json:"question"`
}

type Vote struct {
	Question string `json:"question"`
	Choice   string `json:"choice"`
}

func (CreatePoll) command() {}
func (Vote) command()       {}

// Query is a read-only message.
type Query interface {
	query()
}

type GetPoll struct {
	Question string `json:"question"`
}

type GetConfig struct{}

type GetContractInfo struct{}

func (GetPoll) query()         {}
func (GetConfig) query()       {}
func (GetContractInfo) query() {}

// GetPollResponse carries an optional poll. A nil Poll means no poll exists
// for the requested question.
type GetPollResponse struct {
	Poll *Poll `json:"poll"`
}
