package awsboot

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	value string
	err   error
	calls int
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(f.value)}}, nil
}

func TestLoadGeminiKey_FromSSM(t *testing.T) {
	t.Setenv(GeminiKeyEnv, "")
	fake := &fakeSSM{value: "secret"}
	if err := LoadGeminiKey(context.Background(), fake, "/confession-pipeline/test/key"); err != nil {
		t.Fatal(err)
	}
	if os.Getenv(GeminiKeyEnv) != "secret" {
		t.Error("key should be exported to the environment")
	}
}

func TestLoadGeminiKey_EnvWins(t *testing.T) {
	t.Setenv(GeminiKeyEnv, "from-env")
	fake := &fakeSSM{value: "secret"}
	if err := LoadGeminiKey(context.Background(), fake, "/p"); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Error("SSM must not be called when the env var is set")
	}
}

func TestLoadGeminiKey_Errors(t *testing.T) {
	t.Setenv(GeminiKeyEnv, "")
	if err := LoadGeminiKey(context.Background(), &fakeSSM{}, ""); err == nil {
		t.Error("expected error without a parameter name")
	}
	if err := LoadGeminiKey(context.Background(), &fakeSSM{err: errors.New("denied")}, "/p"); err == nil {
		t.Error("expected SSM error to surface")
	}
}

func TestInitRequiresNames(t *testing.T) {
	if _, err := InitS3(aws.Config{}, ""); err == nil {
		t.Error("InitS3 should require a bucket")
	}
	if _, err := InitDynamo(aws.Config{}, ""); err == nil {
		t.Error("InitDynamo should require a table")
	}
	if InitEvents(aws.Config{}, "") != nil {
		t.Error("InitEvents without a bus should be disabled")
	}
}
