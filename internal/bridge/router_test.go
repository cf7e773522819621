package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutFor(t *testing.T) {
	r := NewRouter(30 * time.Second)

	// rendering-heavy commands get long budgets
	assert.Equal(t, 60*time.Second, r.TimeoutFor("capture_page"))
	assert.Equal(t, 30*time.Second, r.TimeoutFor("navigate"))

	// state queries stay short
	assert.Equal(t, 5*time.Second, r.TimeoutFor("list_tabs"))
	assert.Equal(t, 5*time.Second, r.TimeoutFor("get_url"))

	// unknown actions fall back to the default
	assert.Equal(t, 30*time.Second, r.TimeoutFor("made_up_action"))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown", Status(99).String())
}
