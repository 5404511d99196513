package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

func registerS3(reg *registry.Registry) {
	// ListBuckets is account-wide; one region suffices.
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "s3",
		TypeName:    "aws:s3:bucket",
		Granularity: registry.PerAccount,
		List:        listBuckets,
		Parse:       parseBucket,
	})
}

func listBuckets(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := s3.NewFromConfig(acc.Config())
	resp, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	out := map[string]registry.RawResource{}
	for _, bucket := range resp.Buckets {
		name := aws.ToString(bucket.Name)
		raw := registry.RawResource{"name": name}
		if bucket.CreationDate != nil {
			raw["creation_date"] = bucket.CreationDate.Unix()
		}
		out[fmt.Sprintf("arn:aws:s3:::%s", name)] = raw
	}
	return out, nil
}

func parseBucket(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{{Pred: "name", Obj: raw["name"]}},
	}
	if created, ok := raw["creation_date"]; ok {
		links.SimpleLinks = append(links.SimpleLinks, types.SimpleLink{Pred: "creation_date", Obj: created})
	}
	return links, nil
}
