package publish

import (
	"context"
	"testing"
)

func TestDynamoEventLog(t *testing.T) {
	ctx := context.Background()

	log, teardown, err := DynamoTestLog(ctx)
	if err != nil {
		t.Fatalf("failed to create test event log. %+v", err)
	}
	defer teardown()

	NewLogValidationSuite(ctx, log).Run(t)
}
