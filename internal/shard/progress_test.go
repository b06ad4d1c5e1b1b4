package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlushProgressAwaitTargetAlreadySatisfied(t *testing.T) {
	p := NewFlushProgress()
	id := p.NextID()
	p.MarkCompleted(id)

	select {
	case <-p.AwaitTarget(id):
	case <-time.After(time.Second):
		t.Fatal("expected already-satisfied target to return a closed channel")
	}
}

func TestFlushProgressAwaitTargetBlocksUntilCompleted(t *testing.T) {
	p := NewFlushProgress()
	id := p.NextID()

	done := p.AwaitTarget(id)
	select {
	case <-done:
		t.Fatal("should not be done before MarkCompleted")
	default:
	}

	p.MarkCompleted(id)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected AwaitTarget to unblock after MarkCompleted")
	}
}

func TestFlushProgressLaterTicketDoesNotExtendEarlierWait(t *testing.T) {
	p := NewFlushProgress()
	first := p.NextID()
	done := p.AwaitTarget(first)

	second := p.NextID()
	_ = second

	p.MarkCompleted(first)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected wait on first ticket to resolve once first completes")
	}
}

func TestFlushProgressSubmittedTracksTicketCount(t *testing.T) {
	p := NewFlushProgress()
	assert.Equal(t, uint64(0), p.Submitted())
	p.NextID()
	p.NextID()
	assert.Equal(t, uint64(2), p.Submitted())
}
