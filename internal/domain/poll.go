package domain

// Poll is a yes/no poll keyed by its exact question text.
type Poll struct {
	Question string `json:"question"`
	YesVotes uint64 `json:"yes_votes"`
	NoVotes  uint64 `json:"no_votes"`
}

// Choice is a vote option.
type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// ParseChoice accepts exactly "yes" or "no". Matching is case-sensitive and
// the input is not trimmed.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceYes:
		return ChoiceYes, nil
	case ChoiceNo:
		return ChoiceNo, nil
	default:
		return "", ErrInvalidChoice
	}
}

// Total returns the number of votes cast on the poll.
func (p Poll) Total() uint64 {
	return p.YesVotes + p.NoVotes
}
