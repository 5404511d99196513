// Package aws registers the AWS resource kinds cartograph scans and the
// region availability catalog they resolve against.
package aws

import (
	"sort"

	"github.com/cartograph-io/cartograph/regions"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

// Register adds every supported AWS resource kind to reg.
func Register(reg *registry.Registry) {
	registerAccount(reg)
	registerEC2(reg)
	registerIAM(reg)
	registerS3(reg)
	registerLambda(reg)
	registerDynamoDB(reg)

	reg.RegisterOverride(UnscannedAccountTypeName, AccountTypeName)
}

// DefaultRegionCatalog maps the supported services to their availability.
// Regional services are marked available everywhere and narrowed by the
// account's enabled regions at scan time; only global-endpoint services
// need pinning here.
func DefaultRegionCatalog(allRegions []string) regions.Catalog {
	return regions.Catalog{
		"sts":      allRegions,
		"ec2":      allRegions,
		"s3":       allRegions,
		"lambda":   allRegions,
		"dynamodb": allRegions,
		"iam":      {regions.PseudoGlobal},
	}
}

// CommercialRegions is the default region set for the aws partition.
var CommercialRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"ca-central-1",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-north-1",
	"ap-northeast-1", "ap-northeast-2", "ap-south-1",
	"ap-southeast-1", "ap-southeast-2",
	"sa-east-1",
}

func tagLinksFrom(raw registry.RawResource) []types.TagLink {
	tags, _ := raw["tags"].(map[string]string)
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.TagLink, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.TagLink{Pred: k, Obj: tags[k]})
	}
	return out
}

func stringFrom(raw registry.RawResource, key string) string {
	s, _ := raw[key].(string)
	return s
}
