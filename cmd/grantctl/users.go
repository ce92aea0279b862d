package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-grants/providers"
	"github.com/giantswarm/oidc-grants/storage"
)

// usersFile is the YAML layout of --users.
//
//	users:
//	  - subject: "88421113"
//	    username: bob
//	    password_hash: $2a$10$...
//	    claims:
//	      - type: email
//	        value: bob@example.com
type usersFile struct {
	Users []userConfig `yaml:"users"`
}

type userConfig struct {
	Subject      string        `yaml:"subject"`
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"`
	Active       *bool         `yaml:"active"`
	Claims       []claimConfig `yaml:"claims"`
}

type claimConfig struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// loadUsers builds the user directory. An empty path yields an empty
// directory, so only client-only grants succeed.
func loadUsers(path string) (*providers.UserStore, error) {
	if path == "" {
		return providers.NewUserStore()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseUsers(data)
}

func parseUsers(data []byte) (*providers.UserStore, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users: %w", err)
	}

	users := make([]*providers.User, 0, len(f.Users))
	for _, u := range f.Users {
		if u.Subject == "" {
			return nil, fmt.Errorf("user %q has no subject", u.Username)
		}
		user := &providers.User{
			SubjectID:    u.Subject,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Active:       u.Active == nil || *u.Active,
		}
		for _, c := range u.Claims {
			user.Claims = append(user.Claims, storage.NewClaim(c.Type, c.Value))
		}
		users = append(users, user)
	}
	return providers.NewUserStore(users...)
}
