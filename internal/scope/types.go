package scope

// Rules defines which discovered links the crawler may follow.
type Rules struct {
	// AllowedDomains are matched against the host and all its parents.
	AllowedDomains []string `yaml:"allowed_domains" json:"allowed_domains"`

	// TrapPatterns are regular expressions matched against the full URL.
	TrapPatterns []string `yaml:"trap_patterns" json:"trap_patterns"`

	// DisallowedExtensions replaces the default list of non-page file
	// extensions when set. Entries have no leading dot.
	DisallowedExtensions []string `yaml:"disallowed_extensions" json:"disallowed_extensions"`

	// PathRules restrict some hosts to part of their path space.
	PathRules []PathRule `yaml:"path_rules" json:"path_rules"`

	// SubdomainSuffixes select the hosts counted in the subdomain census.
	// Empty counts every in-scope host.
	SubdomainSuffixes []string `yaml:"subdomain_suffixes" json:"subdomain_suffixes"`

	// MaxURLLength rejects longer URLs. Zero disables the check.
	MaxURLLength int `yaml:"max_url_length" json:"max_url_length"`

	// MaxRepeatedSegments rejects paths repeating one segment more often.
	// Zero disables the check.
	MaxRepeatedSegments int `yaml:"max_repeated_segments" json:"max_repeated_segments"`
}

// PathRule requires URLs on Host (or its subdomains) to contain
// PathContains in their path.
type PathRule struct {
	Host         string `yaml:"host" json:"host"`
	PathContains string `yaml:"path_contains" json:"path_contains"`
}
