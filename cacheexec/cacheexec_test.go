package cacheexec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsCallback(t *testing.T) {
	p := NewPool(2)
	var ran int32
	err := <-p.Go(context.Background(), func(Token) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("callback did not run")
	}
}

func TestPoolPropagatesError(t *testing.T) {
	p := NewPool(1)
	want := errors.New("boom")
	err := <-p.Go(context.Background(), func(Token) error {
		return want
	})
	if err != want {
		t.Errorf("got %v; want %v", err, want)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	release := make(chan struct{})
	first := p.Go(context.Background(), func(Token) error {
		close(started)
		<-release
		return nil
	})
	<-started

	secondStarted := make(chan struct{})
	second := p.Go(context.Background(), func(Token) error {
		close(secondStarted)
		return nil
	})

	select {
	case <-secondStarted:
		t.Fatal("second callback started before the first released its slot")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-first
	<-second
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(1)
	err := <-p.Go(context.Background(), func(Token) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected an error from a panicking callback")
	}
}
