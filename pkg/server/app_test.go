package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.rec.add("start " + f.name)
	return nil
}

func (f *fakeComponent) Stop(context.Context) error {
	f.rec.add("stop " + f.name)
	return nil
}

func TestRunStopsInReverseOrder(t *testing.T) {
	rec := &recorder{}
	app := New(nil, nil, time.Second,
		&fakeComponent{name: "feed", rec: rec},
		&fakeComponent{name: "engine", rec: rec},
	)
	app.AddCloser("store", func() error { rec.add("close store"); return nil })
	app.AddCloser("cache", func() error { rec.add("close cache"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{
		"start feed", "start engine",
		"stop engine", "stop feed",
		"close cache", "close store",
	}, rec.list())
}

func TestRunUnwindsWhenStartFails(t *testing.T) {
	rec := &recorder{}
	app := New(nil, nil, time.Second,
		&fakeComponent{name: "feed", rec: rec},
		&fakeComponent{name: "engine", rec: rec, startErr: errors.New("boom")},
	)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start engine")
	assert.Equal(t, []string{"start feed", "stop feed"}, rec.list())
}
