package auth_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/authgate/auth"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/identity/identitytest"
	"github.com/jonwraymond/authgate/session"
)

func ExampleResolver() {
	provider := identitytest.New()
	provider.SignIn(identitytest.DefaultAccount)

	resolver, err := auth.NewResolver(auth.ResolverConfig{
		Handle:    identity.NewStaticHandle(provider),
		Store:     session.NewMemoryStore(0),
		APIScopes: []string{"api://authgate/access_as_user"},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	token, ok := resolver.AccessToken(ctx)
	fmt.Println(token, ok)
	fmt.Println(resolver.UserInfo(ctx).Email)

	_ = resolver.Logout(ctx)
	fmt.Println(resolver.IsAuthenticated(ctx))
	// Output:
	// access-token true
	// ada@example.com
	// false
}
