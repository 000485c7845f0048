package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStateAdvanceIsMonotonic(t *testing.T) {
	s, changed := StateSent.Advance(StateDelivered)
	assert.True(t, changed)
	assert.Equal(t, StateDelivered, s)

	s, changed = s.Advance(StateRead)
	assert.True(t, changed)
	assert.Equal(t, StateRead, s)

	s, changed = s.Advance(StateDelivered)
	assert.False(t, changed)
	assert.Equal(t, StateRead, s)

	s, changed = StateSent.Advance(DeliveryState(9))
	assert.False(t, changed)
	assert.Equal(t, StateSent, s)
}

func TestDeliveryStateEditWindow(t *testing.T) {
	assert.True(t, StateSent.CanEdit())
	assert.True(t, StateDelivered.CanEdit())
	assert.False(t, StateRead.CanEdit())
}

func TestDeletionFor(t *testing.T) {
	assert.Equal(t, DeleteRemove, DeletionFor(StateSent))
	assert.Equal(t, DeleteRemove, DeletionFor(StateDelivered))
	assert.Equal(t, DeleteTombstone, DeletionFor(StateRead))
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "hi", PreviewOf("hi", 0))
	assert.Equal(t, AttachmentPreview, PreviewOf("", 2))
	assert.Equal(t, "", PreviewOf("", 0))

	long := strings.Repeat("好", PreviewMaxRunes+10)
	assert.Equal(t, PreviewMaxRunes, len([]rune(PreviewOf(long, 0))))
}

func TestSummaryAtPtr(t *testing.T) {
	assert.Nil(t, Summary{}.AtPtr())
	at := time.Now()
	assert.Equal(t, at, *Summary{Preview: "x", At: at}.AtPtr())
}
