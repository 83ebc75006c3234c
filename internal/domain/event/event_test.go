package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"submitted", TypeRequestSubmitted, true},
		{"transitioned", TypeRequestTransitioned, true},
		{"billed", TypeRequestBilled, true},
		{"billing pending", TypeBillingPending, true},
		{"unknown", Type("voucher.generated"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.IsValid())
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{KeyFrom: "NEW", KeyTo: "VERIFIED"}
	e := NewEvent(TypeRequestTransitioned, 100, payload)

	require.NotEmpty(t, e.ID)
	assert.Len(t, e.ID, 36, "event ids are uuids")
	assert.Equal(t, e.ID, e.CorrelationID)
	assert.Equal(t, int64(100), e.RequestID)
	assert.False(t, e.Timestamp.IsZero())

	other := NewEvent(TypeRequestTransitioned, 100, nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestNewEventWithCorrelation(t *testing.T) {
	e := NewEventWithCorrelation(TypeRequestBilled, 5, nil, "chain-1")
	assert.Equal(t, "chain-1", e.CorrelationID)
	assert.NotEqual(t, "chain-1", e.ID)

	fallback := NewEventWithCorrelation(TypeRequestBilled, 5, nil, "")
	assert.Equal(t, fallback.ID, fallback.CorrelationID)
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestEvent_PayloadAccessors(t *testing.T) {
	e := NewEvent(TypeRequestBilled, 1, map[string]interface{}{
		"s":     "text",
		"typed": stringer("APPROVED"),
		"wrong": []int{1},
	})

	assert.Equal(t, "text", e.GetPayloadString("s"))
	assert.Equal(t, "APPROVED", e.GetPayloadString("typed"))
	assert.Equal(t, "", e.GetPayloadString("wrong"))
	assert.Equal(t, "", e.GetPayloadString("missing"))
}
