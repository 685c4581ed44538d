package shared

// VCSCredentials holds the credentials for a version control host.
type VCSCredentials struct {
	Provider string
	Token    string
	BaseURL  string
}

// Valid reports whether a token is present. The local provider never needs one.
func (c VCSCredentials) Valid() bool {
	return c.Provider == "local" || c.Token != ""
}
