package natsbus

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamsDoNotOverlap(t *testing.T) {
	seen := map[string]string{}
	for _, sc := range Streams() {
		assert.Equal(t, nats.WorkQueuePolicy, sc.Retention, sc.Name)
		for _, subj := range sc.Subjects {
			if owner, dup := seen[subj]; dup {
				t.Fatalf("subject %s bound by %s and %s", subj, owner, sc.Name)
			}
			seen[subj] = sc.Name
		}
	}
	assert.Len(t, seen, 3)
}
