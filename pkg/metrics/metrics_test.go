package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordActionExecution(t *testing.T) {
	before := testutil.ToFloat64(ActionExecutionsTotal.WithLabelValues("webhook", "send", "single", "success"))
	RecordActionExecution("webhook", "send", "single", "success", 0.2)
	after := testutil.ToFloat64(ActionExecutionsTotal.WithLabelValues("webhook", "send", "single", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordBatchItemsIgnoresEmpty(t *testing.T) {
	before := testutil.ToFloat64(BatchItemsTotal.WithLabelValues("webhook", "send", "error"))
	RecordBatchItems("webhook", "send", "error", 0)
	RecordBatchItems("webhook", "send", "error", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(BatchItemsTotal.WithLabelValues("webhook", "send", "error")))
}

func TestRecordAPIRequest(t *testing.T) {
	counter := APIRequestsTotal.WithLabelValues("POST", "/v1/mappings/validate", "200")
	before := testutil.ToFloat64(counter)
	RecordAPIRequest("POST", "/v1/mappings/validate", "200", 0.01)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
