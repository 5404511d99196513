package aws

import (
	"context"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

func registerIAM(reg *registry.Registry) {
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "iam",
		TypeName:    "aws:iam:role",
		Granularity: registry.PerAccount,
		List:        listRoles,
		Parse:       parseRole,
	})
}

func listRoles(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := iam.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, role := range page.Roles {
			raw := registry.RawResource{
				"role_name": aws.ToString(role.RoleName),
				"path":      aws.ToString(role.Path),
			}
			if role.MaxSessionDuration != nil {
				raw["max_session_duration"] = int(*role.MaxSessionDuration)
			}
			// ListRoles url-encodes the trust policy document.
			if doc := aws.ToString(role.AssumeRolePolicyDocument); doc != "" {
				if decoded, err := url.QueryUnescape(doc); err == nil {
					raw["assume_role_policy_document"] = decoded
				}
			}
			out[aws.ToString(role.Arn)] = raw
		}
	}
	return out, nil
}

func parseRole(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{
			{Pred: "role_name", Obj: raw["role_name"]},
			{Pred: "path", Obj: raw["path"]},
		},
	}
	if d, ok := raw["max_session_duration"]; ok {
		links.SimpleLinks = append(links.SimpleLinks, types.SimpleLink{Pred: "max_session_duration", Obj: d})
	}
	if doc, ok := raw["assume_role_policy_document"]; ok {
		links.SimpleLinks = append(links.SimpleLinks, types.SimpleLink{Pred: "assume_role_policy_document", Obj: doc})
	}
	return links, nil
}
