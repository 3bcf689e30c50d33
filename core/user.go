package core

import (
	"context"
	"time"
)

type (
	// User is an authenticated account. Subject is the stable account key:
	// the lowercased wallet address for wallet logins, or the provider
	// subject for OAuth logins.
	User struct {
		Subject   string    `json:"subject" bson:"_id"`
		Provider  string    `json:"provider" bson:"provider"`
		Login     string    `json:"login" bson:"login"`
		Email     string    `json:"email" bson:"email"`
		AvatarURL string    `json:"avatarUrl" bson:"avatarUrl"`
		Name      string    `json:"name" bson:"name"`
		CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	}

	// UserStore persists users keyed by subject.
	UserStore interface {
		// UpsertUser creates the user or refreshes its profile fields.
		UpsertUser(ctx context.Context, user *User) error

		GetUser(ctx context.Context, subject string) (*User, error)
	}
)
