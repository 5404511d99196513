// Package access builds per-(account, region) AWS API access: an
// assume-role credential provider with a session cache, and an Accessor
// that enforces read-only calls and counts them.
package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Provider hands out an aws.Config scoped to one account and region.
// Implementations must be safe for concurrent use; callers receive their
// own config value and never share live sessions across tasks.
type Provider interface {
	Config(ctx context.Context, accountID, region string) (aws.Config, error)
}

// StaticProvider returns the base config for every account, with only the
// region swapped. Used for single-account scans running on ambient
// credentials.
type StaticProvider struct {
	Base aws.Config
}

func (p StaticProvider) Config(_ context.Context, _ string, region string) (aws.Config, error) {
	cfg := p.Base.Copy()
	if region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

// AssumeRoleProvider assumes a per-account role, optionally through a chain
// of intermediate hop roles, caching the credential provider per account.
type AssumeRoleProvider struct {
	base        aws.Config
	hopRoleARNs []string
	roleName    string
	sessionName string
	externalID  string

	mu    sync.Mutex
	cache map[string]aws.CredentialsProvider
}

// NewAssumeRoleProvider builds a provider that assumes
// arn:aws:iam::<account>:role/<roleName> from the base config, traversing
// hopRoleARNs in order first when the target role is not directly assumable.
func NewAssumeRoleProvider(base aws.Config, roleName, sessionName, externalID string, hopRoleARNs []string) *AssumeRoleProvider {
	return &AssumeRoleProvider{
		base:        base,
		hopRoleARNs: hopRoleARNs,
		roleName:    roleName,
		sessionName: sessionName,
		externalID:  externalID,
		cache:       map[string]aws.CredentialsProvider{},
	}
}

func (p *AssumeRoleProvider) Config(ctx context.Context, accountID, region string) (aws.Config, error) {
	creds, err := p.credentials(accountID)
	if err != nil {
		return aws.Config{}, err
	}
	cfg := p.base.Copy()
	cfg.Credentials = creds
	if region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

func (p *AssumeRoleProvider) credentials(accountID string) (aws.CredentialsProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if creds, ok := p.cache[accountID]; ok {
		return creds, nil
	}

	cfg := p.base.Copy()
	for _, hopARN := range p.hopRoleARNs {
		cfg.Credentials = aws.NewCredentialsCache(p.assumeProvider(cfg, hopARN))
	}
	targetARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, p.roleName)
	creds := aws.NewCredentialsCache(p.assumeProvider(cfg, targetARN))
	p.cache[accountID] = creds
	return creds, nil
}

func (p *AssumeRoleProvider) assumeProvider(cfg aws.Config, roleARN string) *stscreds.AssumeRoleProvider {
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
		if p.sessionName != "" {
			o.RoleSessionName = p.sessionName
		}
		if p.externalID != "" {
			o.ExternalID = aws.String(p.externalID)
		}
	})
}
