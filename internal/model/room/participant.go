package room

// Profile captures the per-user persona fields consumed by the scoring heads.
type Profile struct {
	Background        string   `json:"background"`
	PersonalityTraits []string `json:"personality_traits"`
	SpeakingStyle     string   `json:"speaking_style"`
	Values            string   `json:"values"`
}

// Participant is one live connection's identity inside the public room.
// A reconnecting client gets a fresh Participant; identities are not reused.
type Participant struct {
	ID       string  `json:"user_id"`
	Nickname string  `json:"nickname"`
	Profile  Profile `json:"persona_profile"`
}

// UserRef is the compact form broadcast in presence and chat payloads.
type UserRef struct {
	ID       string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// Ref returns the broadcastable reference for the participant.
func (p Participant) Ref() UserRef {
	return UserRef{ID: p.ID, Nickname: p.Nickname}
}
