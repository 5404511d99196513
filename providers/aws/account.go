package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

// AccountTypeName labels the account resource itself.
const AccountTypeName = "aws:account"

func registerAccount(reg *registry.Registry) {
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "sts",
		TypeName:    AccountTypeName,
		Granularity: registry.PerAccount,
		List:        listAccount,
		Parse:       parseAccount,
	})
}

func listAccount(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	identity, err := sts.NewFromConfig(acc.Config()).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}
	accountID := aws.ToString(identity.Account)

	raw := registry.RawResource{"account_id": accountID}
	// Aliases are decoration; an account without iam read access still
	// gets its account resource.
	aliases, err := iam.NewFromConfig(acc.Config()).ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	if err == nil && len(aliases.AccountAliases) > 0 {
		raw["alias"] = aliases.AccountAliases[0]
	}

	return map[string]registry.RawResource{AccountARN(accountID): raw}, nil
}

func parseAccount(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	accountID := stringFrom(raw, "account_id")
	if accountID == "" {
		return types.LinkCollection{}, fmt.Errorf("account resource missing account_id")
	}
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{{Pred: "account_id", Obj: accountID}},
	}
	if alias := stringFrom(raw, "alias"); alias != "" {
		links.SimpleLinks = append(links.SimpleLinks, types.SimpleLink{Pred: "alias", Obj: alias})
	}
	return links, nil
}
