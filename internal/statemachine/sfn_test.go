package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSFNClient struct {
	pages   []*sfn.ListStateMachinesOutput
	listErr error
	created *sfn.CreateStateMachineInput
	updated *sfn.UpdateStateMachineInput
	started *sfn.StartExecutionInput
}

func (m *mockSFNClient) ListStateMachines(_ context.Context, params *sfn.ListStateMachinesInput, _ ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.pages) == 0 {
		return &sfn.ListStateMachinesOutput{}, nil
	}
	idx := 0
	if params.NextToken != nil {
		idx = len(aws.ToString(params.NextToken))
	}
	return m.pages[idx], nil
}

func (m *mockSFNClient) CreateStateMachine(_ context.Context, params *sfn.CreateStateMachineInput, _ ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error) {
	m.created = params
	return &sfn.CreateStateMachineOutput{StateMachineArn: aws.String("arn:new")}, nil
}

func (m *mockSFNClient) UpdateStateMachine(_ context.Context, params *sfn.UpdateStateMachineInput, _ ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error) {
	m.updated = params
	return &sfn.UpdateStateMachineOutput{}, nil
}

func (m *mockSFNClient) StartExecution(_ context.Context, params *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	m.started = params
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec")}, nil
}

func TestPublish_Creates(t *testing.T) {
	client := &mockSFNClient{}
	arn, err := Publish(context.Background(), client, "lakeloader", "arn:role", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "arn:new", arn)
	require.NotNil(t, client.created)
	assert.Equal(t, sfntypes.StateMachineTypeStandard, client.created.Type)
	assert.Equal(t, "{}", aws.ToString(client.created.Definition))
	assert.Nil(t, client.updated)
}

func TestPublish_UpdatesExistingOnLaterPage(t *testing.T) {
	client := &mockSFNClient{pages: []*sfn.ListStateMachinesOutput{
		{StateMachines: []sfntypes.StateMachineListItem{{Name: aws.String("other"), StateMachineArn: aws.String("arn:other")}}, NextToken: aws.String("x")},
		{StateMachines: []sfntypes.StateMachineListItem{{Name: aws.String("lakeloader"), StateMachineArn: aws.String("arn:existing")}}},
	}}
	arn, err := Publish(context.Background(), client, "lakeloader", "arn:role", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "arn:existing", arn)
	require.NotNil(t, client.updated)
	assert.Equal(t, "arn:existing", aws.ToString(client.updated.StateMachineArn))
	assert.Nil(t, client.created)
}

func TestPublish_Errors(t *testing.T) {
	_, err := Publish(context.Background(), &mockSFNClient{}, "", "arn:role", nil)
	assert.Error(t, err)

	_, err = Publish(context.Background(), &mockSFNClient{listErr: errors.New("denied")}, "n", "arn:role", nil)
	assert.ErrorContains(t, err, "ListStateMachines failed")
}

func TestStart(t *testing.T) {
	client := &mockSFNClient{}
	arn, err := Start(context.Background(), client, "arn:sm", map[string]interface{}{"date": "2026-10-19"})
	require.NoError(t, err)
	assert.Equal(t, "arn:exec", arn)
	assert.JSONEq(t, `{"date":"2026-10-19"}`, aws.ToString(client.started.Input))
}
