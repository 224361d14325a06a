package chatsdk

import (
	"context"
	"io"
	"net/http"
)

// CreateUser creates an anonymous account and returns its secret. The
// secret is the only way back into the account and is not shown again.
func (c *SDKClient) CreateUser(ctx context.Context) (Secret, error) {
	resp, err := c.doRequest(ctx, c.HTTPClient, http.MethodPost, "/users", nil)
	if err != nil {
		return "", err
	}

	var out createUserResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return "", err
	}
	if out.Secret == "" {
		return "", serviceError(resp.StatusCode, "account created without a secret", nil)
	}

	c.logger(ctx).Info("account created", "secret", out.Secret)
	return out.Secret, nil
}

// Login exchanges secret for an access token. A 400 means the secret is
// wrong and is reported as ErrIncorrectCredential.
func (c *SDKClient) Login(ctx context.Context, secret Secret) (*Token, error) {
	resp, err := c.doRequest(ctx, c.HTTPClient, http.MethodPost, "/tokens", tokenRequest{Secret: secret})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, ErrIncorrectCredential
	}

	var out tokenResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	token, err := ParseToken(out.AccessToken)
	if err != nil {
		return nil, err
	}

	c.logger(ctx).Debug("logged in",
		"user_id", token.UserID,
		"expires_at", token.ExpiresAt,
		"secret", secret,
	)
	return token, nil
}
