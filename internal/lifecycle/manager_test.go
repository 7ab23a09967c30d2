package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponent records start/stop order in a shared log.
type fakeComponent struct {
	name     string
	log      *[]string
	startErr error
}

func (c *fakeComponent) Start(ctx context.Context) error {
	*c.log = append(*c.log, "start:"+c.name)
	return c.startErr
}

func (c *fakeComponent) Stop(ctx context.Context) error {
	*c.log = append(*c.log, "stop:"+c.name)
	return nil
}

func (c *fakeComponent) Name() string { return c.name }

func TestManagerStartsInDependencyOrderStopsInReverse(t *testing.T) {
	var log []string
	store := &fakeComponent{name: "store", log: &log}
	pool := &fakeComponent{name: "pool", log: &log}
	server := &fakeComponent{name: "server", log: &log}

	m := NewManager()
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(pool, store))
	require.NoError(t, m.Register(server, pool))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, []string{"start:store", "start:pool", "start:server"}, log)
	assert.True(t, m.IsRunning(server))

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, []string{
		"start:store", "start:pool", "start:server",
		"stop:server", "stop:pool", "stop:store",
	}, log)
	assert.False(t, m.IsRunning(store))
}

func TestManagerRegisterValidation(t *testing.T) {
	var log []string
	a := &fakeComponent{name: "a", log: &log}
	b := &fakeComponent{name: "b", log: &log}

	m := NewManager()
	require.Error(t, m.Register(nil))
	require.NoError(t, m.Register(a))
	require.Error(t, m.Register(a), "duplicate registration")
	require.Error(t, m.Register(b, &fakeComponent{name: "ghost", log: &log}), "unregistered dependency")
}

func TestManagerStartFailureRollsBackStartedComponents(t *testing.T) {
	var log []string
	first := &fakeComponent{name: "first", log: &log}
	broken := &fakeComponent{name: "broken", log: &log, startErr: errors.New("boom")}

	m := NewManager()
	require.NoError(t, m.Register(first))
	require.NoError(t, m.Register(broken, first))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start:first", "start:broken", "stop:first"}, log)
	assert.False(t, m.IsRunning(first))
}
