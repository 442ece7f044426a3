package domain

// Agent is one entry of the remote agent catalog.
type Agent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
