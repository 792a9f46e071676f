package types

import (
	"encoding/json"
	"fmt"
	"os"
)

// UserDocument is the stored shape of a user profile. Only the email-bearing
// fields are modelled.
type UserDocument struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Profile struct {
		Email string `json:"email,omitempty"`
	} `json:"profile"`
	Auth struct {
		Email string `json:"email,omitempty"`
	} `json:"auth"`
}

// Record flattens the document into a UserRecord.
func (u UserDocument) Record() UserRecord {
	return UserRecord{
		ID:           u.ID,
		Email:        u.Email,
		ProfileEmail: u.Profile.Email,
		AuthEmail:    u.Auth.Email,
	}
}

// SeedFile is the JSON fixture format accepted by PLANNER_SEED_FILE and the
// reminder-run --seed flag.
type SeedFile struct {
	Planners []PlannerDocument `json:"planners"`
	Users    []UserDocument    `json:"users"`
}

// LoadSeedFile reads and decodes a seed fixture. Planners without an ownerId
// are rejected because every other lookup is keyed on it.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decoding seed file %s: %w", path, err)
	}
	for i, p := range seed.Planners {
		if p.OwnerID == "" {
			return nil, fmt.Errorf("seed file %s: planner %d has no ownerId", path, i)
		}
	}
	return &seed, nil
}
