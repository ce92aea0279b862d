// Package providers defines the profile collaborator used while issuing tokens.
//
// A ProfileService answers two questions during every grant: is the subject
// still active, and which claims should a token carry about it. Token
// creation asks for the claim types declared by the granted scopes; protocol
// claims such as sub or auth_time always come from the grant, never from the
// profile service.
//
// UserStore is an in-memory implementation backed by bcrypt password hashes.
// It also implements CredentialVerifier, which the resource owner password
// grant uses to authenticate users:
//
//	hash, _ := providers.HashPassword("bob")
//	users, err := providers.NewUserStore(&providers.User{
//	    SubjectID:    "88421113",
//	    Username:     "bob",
//	    PasswordHash: hash,
//	    Active:       true,
//	    Claims: []storage.Claim{
//	        storage.NewClaim("name", "Bob Smith"),
//	        storage.NewClaim("email", "bob@example.com"),
//	    },
//	})
//
// A mock implementation for tests lives in providers/mock.
package providers
