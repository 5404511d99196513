package access

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotSubscribedError(t *testing.T) {
	for _, code := range []string{"NotSignedUp", "OptInRequired", "SubscriptionRequiredException", "InvalidAction"} {
		err := &smithy.GenericAPIError{Code: code, Message: "nope"}
		assert.True(t, IsNotSubscribedError(err), code)
	}

	assert.False(t, IsNotSubscribedError(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, IsNotSubscribedError(errors.New("plain error")))
	assert.False(t, IsNotSubscribedError(nil))
}

func TestPermittedOperations(t *testing.T) {
	for _, op := range []string{"GetCallerIdentity", "ListBuckets", "DescribeInstances"} {
		assert.True(t, permittedOperations.MatchString(op), op)
	}
	for _, op := range []string{"TerminateInstances", "PutObject", "DeleteTable", "CreateRole"} {
		assert.False(t, permittedOperations.MatchString(op), op)
	}
}

func TestStaticProviderSwapsRegion(t *testing.T) {
	p := StaticProvider{Base: aws.Config{Region: "us-east-1"}}

	cfg, err := p.Config(context.Background(), "123456789012", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	cfg, err = p.Config(context.Background(), "123456789012", "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestNewAccessorScopesConfig(t *testing.T) {
	acc := NewAccessor(aws.Config{Region: "us-east-1"}, "123456789012", "us-west-2")

	assert.Equal(t, "us-west-2", acc.Region)
	assert.Equal(t, "us-west-2", acc.Config().Region)
	assert.NotNil(t, acc.Stats)
	assert.Len(t, acc.Config().APIOptions, 1)
}
