package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentFromLastSeenKey(t *testing.T) {
	id, ok := AgentFromLastSeenKey(LastSeenKey("agent-7"))
	assert.True(t, ok)
	assert.Equal(t, "agent-7", id)

	_, ok = AgentFromLastSeenKey("fleet:lock:outages")
	assert.False(t, ok)

	_, ok = AgentFromLastSeenKey(lastSeenPrefix)
	assert.False(t, ok)
}
