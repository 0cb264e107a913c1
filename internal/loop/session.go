package loop

// Session pins the identity context a decision runs under: which
// profile owns the run, which prompt template frames it, which memory
// partition receives profile-scoped notes, and which model answers.
// Sessions are immutable values; switching profile allocates a new one
// so an in-flight job keeps the session it started with.
type Session struct {
	Profile         string
	PromptTemplate  string
	MemoryPartition string
	ModelID         string
}

// NewSession builds a session for the given profile and model. The
// memory partition defaults to the profile's own partition; the default
// profile writes runtime records only.
func NewSession(profile, modelID string) *Session {
	partition := "profiles/" + profile
	if profile == "" || profile == "default" {
		profile = "default"
		partition = "runtime"
	}
	return &Session{
		Profile:         profile,
		PromptTemplate:  defaultPromptTemplate,
		MemoryPartition: partition,
		ModelID:         modelID,
	}
}

// WithProfile returns a new session under another profile, keeping the
// template and model.
func (s *Session) WithProfile(profile string) *Session {
	next := NewSession(profile, s.ModelID)
	next.PromptTemplate = s.PromptTemplate
	return next
}
