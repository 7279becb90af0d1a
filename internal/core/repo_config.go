package core

// RepoConfig represents the structure of the .rally.yml file a repository
// may carry to tune rallies run against it.
type RepoConfig struct {
	// Agent backend tags for the two roles. Empty means the server
	// defaults apply.
	Reviewer string `yaml:"reviewer"`
	Reviewee string `yaml:"reviewee"`

	// MaxRounds caps the number of review rounds. Zero means the server
	// default applies.
	MaxRounds int `yaml:"max_rounds"`

	// AgentTimeoutMinutes bounds a single agent call. Zero means the
	// server default applies.
	AgentTimeoutMinutes int `yaml:"agent_timeout_minutes"`

	// AutoGrant lists permission-request actions the headless permission
	// authority grants without asking anyone. Everything else is denied.
	AutoGrant []string `yaml:"auto_grant"`

	// Custom instructions appended to both agents' prompts.
	CustomInstructions []string `yaml:"custom_instructions"`
}

// DefaultRepoConfig returns a config with default values.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		AutoGrant:          []string{},
		CustomInstructions: []string{},
	}
}
