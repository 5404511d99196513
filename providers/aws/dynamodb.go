package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

func registerDynamoDB(reg *registry.Registry) {
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "dynamodb",
		TypeName:    "aws:dynamodb:table",
		Granularity: registry.PerRegion,
		List:        listTables,
		Parse:       parseTable,
	})
}

func listTables(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := dynamodb.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range page.TableNames {
			arn := fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", acc.Region, acc.AccountID, name)
			out[arn] = registry.RawResource{"table_name": name}
		}
	}
	return out, nil
}

func parseTable(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	return types.LinkCollection{
		SimpleLinks: []types.SimpleLink{{Pred: "table_name", Obj: raw["table_name"]}},
	}, nil
}
