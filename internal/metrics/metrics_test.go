package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLink(t *testing.T) {
	before := testutil.ToFloat64(graphLinks.WithLabelValues("cycle"))
	RecordLink("cycle")
	assert.Equal(t, before+1, testutil.ToFloat64(graphLinks.WithLabelValues("cycle")))
}

func TestRoomGauge(t *testing.T) {
	before := testutil.ToFloat64(activeRooms)
	RoomOpened()
	RoomOpened()
	RoomClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(activeRooms))
}

func TestRecordVerification(t *testing.T) {
	before := testutil.ToFloat64(auditVerifications.WithLabelValues("tampered"))
	RecordVerification("tampered")
	assert.Equal(t, before+1, testutil.ToFloat64(auditVerifications.WithLabelValues("tampered")))
}
