package middleware

import (
	"encoding/json"
	"fmt"
	"os"

	"agenthub.dev/dispatch/internal/model"
)

// StaticResolver maps bearer tokens to users from a JSON file. It stands
// in for a real identity provider; the mapping is loaded once at startup.
type StaticResolver struct {
	users map[string]model.User
}

func NewStaticResolver(users map[string]model.User) *StaticResolver {
	return &StaticResolver{users: users}
}

// LoadStaticResolver reads a {"token": {user}} JSON document.
func LoadStaticResolver(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading user tokens file: %w", err)
	}

	var users map[string]model.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parsing user tokens file: %w", err)
	}
	return NewStaticResolver(users), nil
}

func (r *StaticResolver) Resolve(token string) (model.User, bool) {
	user, ok := r.users[token]
	return user, ok
}
