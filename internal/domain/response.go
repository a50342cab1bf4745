package domain

const (
	ActionInstantiate = "instantiate"
	ActionCreatePoll  = "create_poll"
	ActionVote        = "vote"
)

// Attribute is a key/value pair attached to a command response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the success envelope returned by command handlers.
type Response struct {
	Attributes []Attribute `json:"attributes"`
}

// NewActionResponse returns a response tagged with a single action attribute.
func NewActionResponse(action string) *Response {
	return &Response{Attributes: []Attribute{{Key: "action", Value: action}}}
}

// Action returns the value of the action attribute, or "" if there is none.
func (r *Response) Action() string {
	if r == nil {
		return ""
	}
	for _, a := range r.Attributes {
		if a.Key == "action" {
			return a.Value
		}
	}
	return ""
}
