package scheduler

import (
	"testing"
	"time"
)

func TestBucketCloser_TradeProof(t *testing.T) {
	boundary := time.Unix(1700000900, 0).UTC()
	var bc bucketCloser

	bc.Observe(boundary.Add(-time.Second))
	if bc.Closed(boundary, boundary) {
		t.Error("a trade before the boundary must not close the bucket")
	}

	bc.Observe(boundary)
	if !bc.Closed(boundary, boundary) {
		t.Error("a trade at the boundary proves the bucket is closed")
	}
}

func TestBucketCloser_GraceFallback(t *testing.T) {
	boundary := time.Unix(1700000900, 0).UTC()
	var bc bucketCloser

	if bc.Closed(boundary, boundary.Add(closeGrace/2)) {
		t.Error("quiet bucket must stay open inside the grace window")
	}
	if !bc.Closed(boundary, boundary.Add(closeGrace+time.Second)) {
		t.Error("quiet bucket must close once the grace window has passed")
	}
}

func TestBucketCloser_ObserveKeepsMax(t *testing.T) {
	boundary := time.Unix(1700000900, 0).UTC()
	var bc bucketCloser

	bc.Observe(boundary.Add(5 * time.Second))
	bc.Observe(boundary.Add(-10 * time.Second)) // out-of-order arrival
	if !bc.Closed(boundary, boundary) {
		t.Error("an older trade must not retract the closure proof")
	}
}
