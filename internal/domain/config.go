package domain

// Config is the single administrative record written at initialization.
type Config struct {
	AdminAddress string `json:"admin_address"`
}

// ContractInfo tags the store with the name and version of the logic that
// initialized it.
type ContractInfo struct {
	Contract string `json:"contract"`
	Version  string `json:"version"`
}

// AddressValidator accepts or rejects raw identity strings. Implementations
// return the validated form of the address.
type AddressValidator interface {
	Validate(address string) (string, error)
}
