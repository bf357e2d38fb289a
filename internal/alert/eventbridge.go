package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// EventBridge envelope fields.
const (
	eventSource     = "lakeloader"
	eventDetailType = "lakeloader.alert"
)

// EventBridgeAPI is the subset of the EventBridge client used by EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink puts alerts on an event bus. An empty bus name means the
// account's default bus.
type EventBridgeSink struct {
	client EventBridgeAPI
	bus    string
}

// NewEventBridgeSink creates a sink for bus. A nil client is built from the
// default AWS config.
func NewEventBridgeSink(ctx context.Context, bus, region string, client EventBridgeAPI) (*EventBridgeSink, error) {
	if client == nil {
		cfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		client = eventbridge.NewFromConfig(cfg)
	}
	return &EventBridgeSink{client: client, bus: bus}, nil
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send puts one event whose detail is the alert.
func (s *EventBridgeSink) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	entry := ebtypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(eventDetailType),
		Detail:     aws.String(string(data)),
		Time:       aws.Time(alert.Timestamp),
	}
	if s.bus != "" {
		entry.EventBusName = aws.String(s.bus)
	}

	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: []ebtypes.PutEventsRequestEntry{entry}})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		e := out.Entries[0]
		return fmt.Errorf("event rejected: %s: %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}
