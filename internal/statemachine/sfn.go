package statemachine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

// SFNAPI is the subset of the AWS Step Functions client used by this package.
type SFNAPI interface {
	ListStateMachines(ctx context.Context, params *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	CreateStateMachine(ctx context.Context, params *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	UpdateStateMachine(ctx context.Context, params *sfn.UpdateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error)
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Publish creates the named state machine, or updates its definition and
// role when it already exists. It returns the state machine ARN.
func Publish(ctx context.Context, client SFNAPI, name, roleARN string, definition []byte) (string, error) {
	if name == "" || roleARN == "" {
		return "", fmt.Errorf("publish: name and role ARN are required")
	}
	def := string(definition)

	arn, err := findStateMachine(ctx, client, name)
	if err != nil {
		return "", err
	}
	if arn != "" {
		_, err := client.UpdateStateMachine(ctx, &sfn.UpdateStateMachineInput{
			StateMachineArn: aws.String(arn),
			Definition:      aws.String(def),
			RoleArn:         aws.String(roleARN),
		})
		if err != nil {
			return "", fmt.Errorf("publish: UpdateStateMachine failed: %w", err)
		}
		return arn, nil
	}

	out, err := client.CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
		Name:       aws.String(name),
		Definition: aws.String(def),
		RoleArn:    aws.String(roleARN),
		Type:       sfntypes.StateMachineTypeStandard,
	})
	if err != nil {
		return "", fmt.Errorf("publish: CreateStateMachine failed: %w", err)
	}
	return aws.ToString(out.StateMachineArn), nil
}

func findStateMachine(ctx context.Context, client SFNAPI, name string) (string, error) {
	input := &sfn.ListStateMachinesInput{}
	for {
		out, err := client.ListStateMachines(ctx, input)
		if err != nil {
			return "", fmt.Errorf("publish: ListStateMachines failed: %w", err)
		}
		for _, sm := range out.StateMachines {
			if aws.ToString(sm.Name) == name {
				return aws.ToString(sm.StateMachineArn), nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		input.NextToken = out.NextToken
	}
}

// Start begins an execution of the published workflow and returns its ARN.
func Start(ctx context.Context, client SFNAPI, stateMachineARN string, input map[string]interface{}) (string, error) {
	params := &sfn.StartExecutionInput{StateMachineArn: aws.String(stateMachineARN)}
	if len(input) > 0 {
		b, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("start: marshaling input: %w", err)
		}
		params.Input = aws.String(string(b))
	}
	out, err := client.StartExecution(ctx, params)
	if err != nil {
		return "", fmt.Errorf("start: StartExecution failed: %w", err)
	}
	return aws.ToString(out.ExecutionArn), nil
}
