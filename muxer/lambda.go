package muxer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/cartograph-io/cartograph/journal"
	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/telemetry"
)

// LambdaAPI is the slice of the lambda client the muxer uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaOptions configures a muxer that delegates each account scan to a
// lambda function. The function receives the account scan plan as its event
// and returns the account scan manifest.
type LambdaOptions struct {
	ScanID            string
	Client            LambdaAPI
	FunctionName      string
	MaxAccountWorkers int
	MaxTries          int
	RetryBackoff      time.Duration
	Journal           *journal.Journal
}

// NewLambda builds a muxer that schedules account scans onto lambda.
func NewLambda(opts LambdaOptions) *Mux {
	return &Mux{
		ScanID: opts.ScanID,
		Schedule: func(ctx context.Context, plan scan.AccountScanPlan) (scan.AccountScanManifest, error) {
			return invoke(ctx, opts.Client, opts.FunctionName, plan)
		},
		MaxWorkers:   opts.MaxAccountWorkers,
		MaxTries:     opts.MaxTries,
		RetryBackoff: opts.RetryBackoff,
		Logger:       telemetry.NewLogger("muxer"),
		Journal:      opts.Journal,
	}
}

func invoke(ctx context.Context, client LambdaAPI, functionName string, plan scan.AccountScanPlan) (scan.AccountScanManifest, error) {
	payload, err := json.Marshal(plan)
	if err != nil {
		return scan.AccountScanManifest{}, fmt.Errorf("encoding scan event for %s: %w", plan.AccountID, err)
	}

	out, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	})
	if err != nil {
		return scan.AccountScanManifest{}, fmt.Errorf("invoking %s for account %s: %w", functionName, plan.AccountID, err)
	}
	if out.FunctionError != nil {
		return scan.AccountScanManifest{}, fmt.Errorf("account %s scan function failed: %s: %s",
			plan.AccountID, aws.ToString(out.FunctionError), out.Payload)
	}

	var manifest scan.AccountScanManifest
	if err := json.Unmarshal(out.Payload, &manifest); err != nil {
		return scan.AccountScanManifest{}, fmt.Errorf("decoding manifest for account %s: %w", plan.AccountID, err)
	}
	return manifest, nil
}

// NewLambdaClient builds a lambda client suitable for long account scans.
// Transport-level retries are disabled so a slow scan is not invoked twice,
// and the HTTP timeout is padded past the function timeout so the client
// outlives the function rather than the other way around.
func NewLambdaClient(cfg aws.Config, functionTimeout time.Duration) *lambda.Client {
	cfg = cfg.Copy()
	cfg.Retryer = func() aws.Retryer { return aws.NopRetryer{} }
	cfg.HTTPClient = &http.Client{Timeout: functionTimeout + 10*time.Second}
	return lambda.NewFromConfig(cfg)
}
