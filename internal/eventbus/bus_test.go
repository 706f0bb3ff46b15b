package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Publish("hello")
	assert.Equal(t, "hello", <-sub)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Publish("late")
	_, ok := <-sub
	assert.False(t, ok)
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Publish(i)
	}
	// buffered at 8; the rest were dropped rather than blocking Publish
	count := 0
	for {
		select {
		case <-sub:
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 8, count)
}
