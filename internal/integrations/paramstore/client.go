package paramstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps secret retrieval. Consumers should
// depend on this interface rather than the concrete *Client so they remain
// testable without real AWS calls.
type Getter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Client retrieves secrets (encryption key, pseudonymization salt, default
// provider credential) from AWS SSM Parameter Store.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetSecret returns the decrypted value of a SecureString parameter.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// GetOptionalSecret is GetSecret, except a missing parameter returns ""
// without error. Used for the environment-default provider credential,
// which deployments may legitimately not configure.
func (c *Client) GetOptionalSecret(ctx context.Context, name string) (string, error) {
	value, err := c.GetSecret(ctx, name)
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// GetKey returns a base64-encoded binary parameter decoded to exactly
// wantLen bytes. Used for the record encryption key.
func (c *Client) GetKey(ctx context.Context, name string, wantLen int) ([]byte, error) {
	value, err := c.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("paramstore: decode key %q: %w", name, err)
	}
	if len(key) != wantLen {
		return nil, fmt.Errorf("paramstore: key %q is %d bytes, want %d", name, len(key), wantLen)
	}
	return key, nil
}
