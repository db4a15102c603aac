package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedListener replays one step per listen call, as signals.Listen
// returns after each handled signal.
type scriptedListener struct {
	steps []func() error
	calls int
}

func (s *scriptedListener) listen(ctx context.Context) error {
	if s.calls >= len(s.steps) {
		<-ctx.Done()
		return ctx.Err()
	}
	step := s.steps[s.calls]
	s.calls++
	return step()
}

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewCLI("studyforge-test")
	require.NoError(t, err)
	return logger
}

func runListen(t *testing.T, ctx context.Context, l *scriptedListener, stopped, reloaded chan struct{}) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- listenSignals(ctx, l.listen, newTestLogger(t), stopped, reloaded)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("listenSignals did not return")
		return nil
	}
}

func TestListenSignalsReturnsAfterShutdown(t *testing.T) {
	stopped := make(chan struct{})
	reloaded := make(chan struct{}, 1)
	l := &scriptedListener{steps: []func() error{
		func() error { close(stopped); return nil },
	}}

	err := runListen(t, context.Background(), l, stopped, reloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, l.calls)
}

func TestListenSignalsKeepsListeningAfterReload(t *testing.T) {
	stopped := make(chan struct{})
	reloaded := make(chan struct{}, 1)
	l := &scriptedListener{steps: []func() error{
		func() error { reloaded <- struct{}{}; return nil },
		func() error { reloaded <- struct{}{}; return errors.New("config reload failed") },
		func() error { close(stopped); return nil },
	}}

	err := runListen(t, context.Background(), l, stopped, reloaded)
	require.NoError(t, err)
	assert.Equal(t, 3, l.calls, "SIGTERM after SIGHUP must still be handled")
}

func TestListenSignalsShutdownWinsOverHandlerError(t *testing.T) {
	stopped := make(chan struct{})
	reloaded := make(chan struct{}, 1)
	l := &scriptedListener{steps: []func() error{
		func() error { close(stopped); return errors.New("server shutdown failed") },
	}}

	require.NoError(t, runListen(t, context.Background(), l, stopped, reloaded))
}

func TestListenSignalsReportsListenerError(t *testing.T) {
	stopped := make(chan struct{})
	reloaded := make(chan struct{}, 1)
	l := &scriptedListener{steps: []func() error{
		func() error { return errors.New("signal channel closed") },
	}}

	err := runListen(t, context.Background(), l, stopped, reloaded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal channel closed")
}

func TestListenSignalsStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &scriptedListener{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, runListen(t, ctx, l, make(chan struct{}), make(chan struct{}, 1)))
}
