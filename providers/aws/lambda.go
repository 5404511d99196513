package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

func registerLambda(reg *registry.Registry) {
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "lambda",
		TypeName:    "aws:lambda:function",
		Granularity: registry.PerRegion,
		List:        listFunctions,
		Parse:       parseFunction,
	})
}

func listFunctions(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := lambda.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, fn := range page.Functions {
			out[aws.ToString(fn.FunctionArn)] = registry.RawResource{
				"function_name": aws.ToString(fn.FunctionName),
				"runtime":       string(fn.Runtime),
				"memory_mb":     int(aws.ToInt32(fn.MemorySize)),
				"role_arn":      aws.ToString(fn.Role),
			}
		}
	}
	return out, nil
}

func parseFunction(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{
			{Pred: "function_name", Obj: raw["function_name"]},
			{Pred: "runtime", Obj: raw["runtime"]},
			{Pred: "memory_mb", Obj: raw["memory_mb"]},
		},
	}
	// The execution role may live in another account or be deleted out
	// from under the function.
	if roleARN := stringFrom(raw, "role_arn"); roleARN != "" {
		links.TransientResourceLinks = append(links.TransientResourceLinks,
			types.TransientResourceLink{Pred: "role", Obj: roleARN})
	}
	return links, nil
}
