package muxer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/scan"
	"github.com/cartograph-io/cartograph/telemetry"
)

type fakeScheduler struct {
	mu       sync.Mutex
	attempts map[string]int
	behave   func(accountID string, attempt int) (scan.AccountScanManifest, error)
}

func (f *fakeScheduler) schedule(_ context.Context, plan scan.AccountScanPlan) (scan.AccountScanManifest, error) {
	f.mu.Lock()
	f.attempts[plan.AccountID]++
	attempt := f.attempts[plan.AccountID]
	f.mu.Unlock()
	return f.behave(plan.AccountID, attempt)
}

func (f *fakeScheduler) count(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[accountID]
}

func cleanManifest(accountID string) scan.AccountScanManifest {
	return scan.AccountScanManifest{AccountID: accountID, ArtifactPaths: []string{"/tmp/" + accountID + ".json"}}
}

func testMux(sched *fakeScheduler) *Mux {
	return &Mux{
		ScanID:     "scan-1",
		Schedule:   sched.schedule,
		MaxWorkers: 2,
		MaxTries:   3,
		Logger:     telemetry.NewLogger("test"),
	}
}

func collect(ch <-chan scan.AccountScanManifest) []scan.AccountScanManifest {
	var out []scan.AccountScanManifest
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestCleanAccountsAreNotRescanned(t *testing.T) {
	sched := &fakeScheduler{
		attempts: map[string]int{},
		behave: func(accountID string, attempt int) (scan.AccountScanManifest, error) {
			// A raises once, then scans clean; B is clean immediately.
			if accountID == "111111111111" && attempt == 1 {
				return scan.AccountScanManifest{}, errors.New("lambda timed out")
			}
			return cleanManifest(accountID), nil
		},
	}
	m := testMux(sched)

	manifests := collect(m.Scan(context.Background(), scan.ScanPlan{
		GraphName:    "test",
		GraphVersion: "2",
		AccountIDs:   []string{"111111111111", "222222222222"},
	}))

	assert.Equal(t, 2, sched.count("111111111111"))
	assert.Equal(t, 1, sched.count("222222222222"))
	require.Len(t, manifests, 2)
	for _, manifest := range manifests {
		assert.True(t, manifest.Scanned())
	}
}

func TestErroredManifestIsEmittedAndRetried(t *testing.T) {
	sched := &fakeScheduler{
		attempts: map[string]int{},
		behave: func(accountID string, attempt int) (scan.AccountScanManifest, error) {
			if attempt == 1 {
				return scan.AccountScanManifest{AccountID: accountID, Errors: []string{"iam throttled"}}, nil
			}
			return cleanManifest(accountID), nil
		},
	}
	m := testMux(sched)

	manifests := collect(m.Scan(context.Background(), scan.ScanPlan{AccountIDs: []string{"111111111111"}}))

	assert.Equal(t, 2, sched.count("111111111111"))
	// both attempts produced a manifest; the caller keeps the latest
	require.Len(t, manifests, 2)
	assert.False(t, manifests[0].Scanned())
	assert.True(t, manifests[1].Scanned())
}

func TestRetriesStopAtMaxTries(t *testing.T) {
	sched := &fakeScheduler{
		attempts: map[string]int{},
		behave: func(string, int) (scan.AccountScanManifest, error) {
			return scan.AccountScanManifest{}, errors.New("persistent failure")
		},
	}
	m := testMux(sched)

	manifests := collect(m.Scan(context.Background(), scan.ScanPlan{AccountIDs: []string{"111111111111"}}))

	assert.Equal(t, 3, sched.count("111111111111"))
	assert.Empty(t, manifests)
}

type fakeLambda struct {
	invoked []string
	out     *lambda.InvokeOutput
	err     error
}

func (f *fakeLambda) Invoke(_ context.Context, params *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	var plan scan.AccountScanPlan
	if err := json.Unmarshal(params.Payload, &plan); err != nil {
		return nil, err
	}
	f.invoked = append(f.invoked, plan.AccountID)
	return f.out, f.err
}

func TestLambdaScheduleDecodesManifest(t *testing.T) {
	payload, err := json.Marshal(cleanManifest("111111111111"))
	require.NoError(t, err)
	client := &fakeLambda{out: &lambda.InvokeOutput{Payload: payload}}

	manifest, err := invoke(context.Background(), client, "cartograph-scan", scan.AccountScanPlan{AccountID: "111111111111"})
	require.NoError(t, err)
	assert.Equal(t, "111111111111", manifest.AccountID)
	assert.Equal(t, []string{"111111111111"}, client.invoked)
}

func TestLambdaFunctionErrorIsTaskFailure(t *testing.T) {
	client := &fakeLambda{out: &lambda.InvokeOutput{
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"scan timed out"}`),
	}}

	_, err := invoke(context.Background(), client, "cartograph-scan", scan.AccountScanPlan{AccountID: "111111111111"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan timed out")
}
