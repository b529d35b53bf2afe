package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
)

type FirebaseAuthClient struct {
	client   *auth.Client
	fallback string
}

// NewFirebaseAuthClient resolves identities through Firebase Auth. fallback
// is used as the display name when a user has none set.
func NewFirebaseAuthClient(client *auth.Client, fallback string) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client:   client,
		fallback: fallback,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return result.UID, nil
}

// DisplayName returns the name messages from uid are shown under: the
// Firebase display name, else the email, else the fallback.
func (f *FirebaseAuthClient) DisplayName(ctx context.Context, uid string) (string, error) {
	user, err := f.client.GetUser(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("looking up user %s: %w", uid, err)
	}

	switch {
	case user.DisplayName != "":
		return user.DisplayName, nil
	case user.Email != "":
		return user.Email, nil
	default:
		return f.fallback, nil
	}
}
