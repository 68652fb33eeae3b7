package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
)

func Test_MemorySetLookup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Set(ctx, "WWW.Example.COM", TypeA, []Record{
		{TTL: 60, Values: []string{"192.0.2.1"}},
		{TTL: 60, Values: []string{"192.0.2.2"}, Geo: "weu"},
	})
	require.NoError(t, err)

	set, err := m.Lookup(ctx, "www.example.com.", TypeA)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "www.example.com.", set[0].Name)
	assert.Equal(t, TypeA, set[0].Type)
	assert.Equal(t, "weu", set[1].Geo)

	set, err = m.Lookup(ctx, "other.example.com.", TypeA)
	require.NoError(t, err)
	assert.Nil(t, set)
}

func Test_MemoryTypes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "example.com.", TypeA, []Record{{Values: []string{"192.0.2.1"}}}))
	require.NoError(t, m.Set(ctx, "example.com.", TypeMX, []Record{{Values: []string{"10 mail.example.com"}}}))

	types, err := m.Types(ctx, "example.com.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TypeA, TypeMX}, types)

	types, err = m.Types(ctx, "gone.example.com.")
	require.NoError(t, err)
	assert.Empty(t, types)
}

func Test_MemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "example.com.", TypeA, []Record{{Values: []string{"192.0.2.1"}}}))
	require.NoError(t, m.Set(ctx, "example.com.", TypeTXT, []Record{{Values: []string{"hi"}}}))

	require.NoError(t, m.Delete(ctx, "example.com.", TypeA))
	set, err := m.Lookup(ctx, "example.com.", TypeA)
	require.NoError(t, err)
	assert.Nil(t, set)

	types, err := m.Types(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, []string{TypeTXT}, types)

	require.NoError(t, m.Delete(ctx, "example.com.", ""))
	types, err = m.Types(ctx, "example.com.")
	require.NoError(t, err)
	assert.Empty(t, types)
}

func Test_MemoryWatch(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := m.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "Changed.Example.COM", TypeA, []Record{{Values: []string{"192.0.2.1"}}}))

	select {
	case ev := <-events:
		assert.Equal(t, "changed.example.com.", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func Test_MemoryLookupIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "example.com.", TypeA, []Record{{Values: []string{"192.0.2.1"}}}))

	set, err := m.Lookup(ctx, "example.com.", TypeA)
	require.NoError(t, err)
	set[0].Values = []string{"tampered"}

	set, err = m.Lookup(ctx, "example.com.", TypeA)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, set[0].Values)
}

func Test_OpenSharedMemory(t *testing.T) {
	cfg := &config.Config{Backend: "memory"}

	a, err := Open(cfg)
	require.NoError(t, err)
	b, err := Open(cfg)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = Open(&config.Config{Backend: "bolt"})
	assert.Error(t, err)
}
