package sessionstore

import "context"

// TokenSlot stores one browser's credential token.
type TokenSlot struct {
	store Store
	scope string
}

func NewTokenSlot(store Store, browserID string) *TokenSlot {
	return &TokenSlot{store: store, scope: BrowserScope(browserID)}
}

// Token returns the stored token, or "" if none.
func (t *TokenSlot) Token(ctx context.Context) (string, error) {
	b, ok, err := t.store.Get(ctx, t.scope, KeyAuthToken)
	if err != nil || !ok {
		return "", err
	}
	return string(b), nil
}

func (t *TokenSlot) SetToken(ctx context.Context, token string) error {
	return t.store.Set(ctx, t.scope, KeyAuthToken, []byte(token))
}

func (t *TokenSlot) ClearToken(ctx context.Context) error {
	return t.store.Clear(ctx, t.scope, KeyAuthToken)
}
