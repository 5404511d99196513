package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cartograph-io/cartograph/access"
	"github.com/cartograph-io/cartograph/registry"
	"github.com/cartograph-io/cartograph/types"
)

func registerEC2(reg *registry.Registry) {
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:vpc",
		Granularity: registry.PerRegion,
		List:        listVPCs,
		Parse:       parseVPC,
	})
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:subnet",
		Granularity: registry.PerRegion,
		List:        listSubnets,
		Parse:       parseSubnet,
	})
	reg.MustRegister(&registry.Descriptor{
		ServiceName: "ec2",
		TypeName:    "aws:ec2:instance",
		Granularity: registry.PerRegion,
		// Instance listing dominates ec2 scan time in busy accounts.
		Parallel: true,
		List:     listInstances,
		Parse:    parseInstance,
	})
}

func ec2ARN(region, accountID, kind, id string) string {
	return fmt.Sprintf("arn:aws:ec2:%s:%s:%s/%s", region, accountID, kind, id)
}

func listVPCs(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := ec2.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := ec2.NewDescribeVpcsPaginator(client, &ec2.DescribeVpcsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vpc := range page.Vpcs {
			id := aws.ToString(vpc.VpcId)
			out[ec2ARN(acc.Region, acc.AccountID, "vpc", id)] = registry.RawResource{
				"vpc_id":     id,
				"cidr_block": aws.ToString(vpc.CidrBlock),
				"is_default": aws.ToBool(vpc.IsDefault),
				"state":      string(vpc.State),
				"tags":       ec2Tags(vpc.Tags),
			}
		}
	}
	return out, nil
}

func parseVPC(_ string, raw registry.RawResource, _ registry.ScanContext) (types.LinkCollection, error) {
	return types.LinkCollection{
		SimpleLinks: []types.SimpleLink{
			{Pred: "cidr_block", Obj: raw["cidr_block"]},
			{Pred: "is_default", Obj: raw["is_default"]},
			{Pred: "state", Obj: raw["state"]},
		},
		TagLinks: tagLinksFrom(raw),
	}, nil
}

func listSubnets(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := ec2.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := ec2.NewDescribeSubnetsPaginator(client, &ec2.DescribeSubnetsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, subnet := range page.Subnets {
			out[aws.ToString(subnet.SubnetArn)] = registry.RawResource{
				"subnet_id":  aws.ToString(subnet.SubnetId),
				"vpc_id":     aws.ToString(subnet.VpcId),
				"cidr_block": aws.ToString(subnet.CidrBlock),
				"az":         aws.ToString(subnet.AvailabilityZone),
				"tags":       ec2Tags(subnet.Tags),
			}
		}
	}
	return out, nil
}

func parseSubnet(_ string, raw registry.RawResource, sctx registry.ScanContext) (types.LinkCollection, error) {
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{
			{Pred: "cidr_block", Obj: raw["cidr_block"]},
			{Pred: "availability_zone", Obj: raw["az"]},
		},
		TagLinks: tagLinksFrom(raw),
	}
	// A subnet cannot outlive its vpc, so this reference is hard.
	if vpcID := stringFrom(raw, "vpc_id"); vpcID != "" {
		links.ResourceLinks = append(links.ResourceLinks,
			types.ResourceLink{Pred: "vpc", Obj: ec2ARN(sctx.Region, sctx.AccountID, "vpc", vpcID)})
	}
	return links, nil
}

func listInstances(ctx context.Context, acc *access.Accessor) (map[string]registry.RawResource, error) {
	client := ec2.NewFromConfig(acc.Config())
	out := map[string]registry.RawResource{}

	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				id := aws.ToString(instance.InstanceId)
				raw := registry.RawResource{
					"instance_id":   id,
					"instance_type": string(instance.InstanceType),
					"vpc_id":        aws.ToString(instance.VpcId),
					"subnet_id":     aws.ToString(instance.SubnetId),
					"image_id":      aws.ToString(instance.ImageId),
					"tags":          ec2Tags(instance.Tags),
				}
				if instance.State != nil {
					raw["state"] = string(instance.State.Name)
				}
				out[ec2ARN(acc.Region, acc.AccountID, "instance", id)] = raw
			}
		}
	}
	return out, nil
}

func parseInstance(_ string, raw registry.RawResource, sctx registry.ScanContext) (types.LinkCollection, error) {
	links := types.LinkCollection{
		SimpleLinks: []types.SimpleLink{
			{Pred: "instance_type", Obj: raw["instance_type"]},
			{Pred: "state", Obj: raw["state"]},
		},
		TagLinks: tagLinksFrom(raw),
	}
	if vpcID := stringFrom(raw, "vpc_id"); vpcID != "" {
		links.ResourceLinks = append(links.ResourceLinks,
			types.ResourceLink{Pred: "vpc", Obj: ec2ARN(sctx.Region, sctx.AccountID, "vpc", vpcID)})
	}
	if subnetID := stringFrom(raw, "subnet_id"); subnetID != "" {
		links.ResourceLinks = append(links.ResourceLinks,
			types.ResourceLink{Pred: "subnet", Obj: ec2ARN(sctx.Region, sctx.AccountID, "subnet", subnetID)})
	}
	// The image may be deregistered or owned by another account.
	if imageID := stringFrom(raw, "image_id"); imageID != "" {
		links.TransientResourceLinks = append(links.TransientResourceLinks,
			types.TransientResourceLink{Pred: "image", Obj: ec2ARN(sctx.Region, sctx.AccountID, "image", imageID)})
	}
	return links, nil
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
