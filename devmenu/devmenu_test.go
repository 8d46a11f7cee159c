package devmenu

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghyeongl/savesync/savedata"
)

func newTestMenu(kv savedata.KV, probes ...Probe) *Menu {
	m := NewMenu(kv, probes...)
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return m
}

func TestGive_FirstSuccessfulProbeWins(t *testing.T) {
	ctx := context.Background()
	kv := savedata.NewMemoryKV(0)
	var calls []string
	probe := func(label string, ok bool) Probe {
		return ProbeFunc{Label: label, Fn: func(context.Context, Item) (bool, string, error) {
			calls = append(calls, label)
			return ok, label + " answered", nil
		}}
	}
	m := newTestMenu(kv, probe("first", false), probe("second", true), probe("third", true))

	out := m.Give(ctx, Item{Kind: KindWeapon, Name: "  Steel Blade "})
	assert.True(t, out.OK)
	assert.Equal(t, "second", out.Probe)
	assert.Equal(t, []string{"first answered"}, out.Attempts)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Empty(t, m.Inventory(ctx))
}

func TestGive_FallsBackToInventory(t *testing.T) {
	ctx := context.Background()
	kv := savedata.NewMemoryKV(0)
	bus := savedata.NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	failing := ProbeFunc{Label: "hook", Fn: func(context.Context, Item) (bool, string, error) {
		return false, "", assert.AnError
	}}
	panicking := ProbeFunc{Label: "broken", Fn: func(context.Context, Item) (bool, string, error) {
		panic("no such function")
	}}
	m := newTestMenu(kv, EventProbe{Bus: bus}, failing, panicking)

	out := m.Give(ctx, Item{Kind: KindItem, Name: "Potion"})
	require.True(t, out.OK)
	assert.Equal(t, "fallback-inventory", out.Probe)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, "dispatched event dev-give", out.Attempts[0])
	assert.Contains(t, out.Attempts[1], "hook: ")
	assert.Contains(t, out.Attempts[2], "panic: no such function")

	ev := <-events
	assert.Equal(t, "dev-give", ev.Type)
	assert.Equal(t, "Potion", ev.Name)

	raw, ok, err := kv.Get(ctx, InventoryKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"ts":1700000000000,"type":"item","name":"Potion","source":"devmenu-fallback"}]`, raw)

	m.Give(ctx, Item{Kind: KindArmor, Name: "Shield"})
	inv := m.Inventory(ctx)
	require.Len(t, inv, 2)
	assert.Equal(t, "Shield", inv[1].Name)
}

func TestGive_ConcurrentFallbacksKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	m := newTestMenu(savedata.NewMemoryKV(0))

	const n = 32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := m.Give(ctx, Item{Kind: KindItem, Name: fmt.Sprintf("Potion %d", i)})
			assert.True(t, out.OK)
		}()
	}
	wg.Wait()

	inv := m.Inventory(ctx)
	require.Len(t, inv, n)
	seen := make(map[string]bool, n)
	for _, rec := range inv {
		seen[rec.Name] = true
	}
	assert.Len(t, seen, n)
}

func TestGive_RejectsBadInput(t *testing.T) {
	m := newTestMenu(savedata.NewMemoryKV(0))
	out := m.Give(context.Background(), Item{Kind: KindItem, Name: "   "})
	assert.False(t, out.OK)
	assert.Equal(t, "name required", out.Message)

	out = m.Give(context.Background(), Item{Kind: "spell", Name: "Heal"})
	assert.False(t, out.OK)
}

func TestGive_InventoryQuotaExceeded(t *testing.T) {
	m := newTestMenu(savedata.NewMemoryKV(20))
	out := m.Give(context.Background(), Item{Kind: KindItem, Name: "Potion"})
	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "quota")
}

func TestInventory_MalformedReadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := savedata.NewMemoryKV(0)
	require.NoError(t, kv.Set(ctx, InventoryKey, "{not json"))
	assert.Empty(t, newTestMenu(kv).Inventory(ctx))
	assert.Empty(t, newTestMenu(nil).Inventory(ctx))
}

func TestInventory_NeverMigrated(t *testing.T) {
	ctx := context.Background()
	kv := savedata.NewMemoryKV(0)
	m := newTestMenu(kv)
	m.Give(ctx, Item{Kind: KindItem, Name: "Apple"})

	entries, err := savedata.NewLegacyStore(kv).ListSaveEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
