// Package devmenu is the developer "give" menu: it hands an item to the
// running game through whichever hook answers, and falls back to an
// inventory kept in the legacy store.
package devmenu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghyeongl/savesync/savedata"
)

// InventoryKey is the legacy-store key of the fallback inventory. It lies
// outside the save prefix, so passes never copy it.
const InventoryKey = "devmenu_inventory"

// FallbackSource tags inventory records written by the fallback.
const FallbackSource = "devmenu-fallback"

// Kind is the category of a given thing.
type Kind string

// Kinds accepted by Give.
const (
	KindItem   Kind = "item"
	KindWeapon Kind = "weapon"
	KindArmor  Kind = "armor"
)

// Quick lists common names per kind.
var Quick = map[Kind][]string{
	KindItem:   {"Potion", "MegaPotion", "Fountain", "Waffle", "Chocolate", "Apple"},
	KindWeapon: {"Wooden Sword", "Steel Blade", "Giant Axe", "Blue Knife", "Pacifier"},
	KindArmor:  {"Leather Armor", "Chainmail", "Mystic Robe", "Shield", "Turtle Shell"},
}

// ErrNameRequired is reported when an item has a blank name.
var ErrNameRequired = errors.New("name required")

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindItem, KindWeapon, KindArmor:
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q (want item, weapon or armor)", s)
}

// Item is one thing to give.
type Item struct {
	Kind Kind   `json:"type"`
	Name string `json:"name"`
}

// InventoryRecord is one entry of the fallback inventory.
type InventoryRecord struct {
	TS     int64  `json:"ts"`
	Type   Kind   `json:"type"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Outcome is the tagged result of a give. Probe names whichever hook
// handled it.
type Outcome struct {
	OK       bool             `json:"ok"`
	Probe    string           `json:"probe,omitempty"`
	Message  string           `json:"message"`
	Attempts []string         `json:"attempts,omitempty"`
	Record   *InventoryRecord `json:"record,omitempty"`
}

// Probe is one way of handing an item to the game. ok reports that the
// game took it; a probe that only signals returns false with a message.
type Probe interface {
	Name() string
	Give(ctx context.Context, item Item) (ok bool, message string, err error)
}

// Menu tries its probes in order and falls back to the inventory.
type Menu struct {
	kv     savedata.KV
	probes []Probe
	now    func() time.Time

	invMu sync.Mutex // serializes read-modify-write of InventoryKey
}

// NewMenu builds a menu over the legacy namespace kv.
func NewMenu(kv savedata.KV, probes ...Probe) *Menu {
	return &Menu{kv: kv, probes: probes, now: time.Now}
}

// Give hands item to the first probe that accepts it. Probe failures are
// collected in the outcome; when none accepts, the item is appended to the
// fallback inventory.
func (m *Menu) Give(ctx context.Context, item Item) Outcome {
	l := savedata.Logger("devmenu")
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return Outcome{Message: ErrNameRequired.Error()}
	}
	if _, err := ParseKind(string(item.Kind)); err != nil {
		return Outcome{Message: err.Error()}
	}

	var attempts []string
	for _, p := range m.probes {
		ok, msg, err := m.try(ctx, p, item)
		switch {
		case err != nil:
			attempts = append(attempts, p.Name()+": "+err.Error())
		case ok:
			l.Info("item given", "probe", p.Name(), "kind", item.Kind, "name", item.Name)
			return Outcome{OK: true, Probe: p.Name(), Message: msg, Attempts: attempts}
		case msg != "":
			attempts = append(attempts, msg)
		}
	}

	rec := InventoryRecord{TS: m.now().UnixMilli(), Type: item.Kind, Name: item.Name, Source: FallbackSource}
	if err := m.appendInventory(ctx, rec); err != nil {
		l.Error("fallback inventory write failed", "name", item.Name, "err", err)
		return Outcome{Message: "fallback inventory write failed: " + err.Error(), Attempts: attempts}
	}
	l.Info("item stored in fallback inventory", "kind", item.Kind, "name", item.Name)
	return Outcome{
		OK:       true,
		Probe:    "fallback-inventory",
		Message:  "added to fallback inventory",
		Attempts: attempts,
		Record:   &rec,
	}
}

// try runs one probe, turning a panic into an error.
func (m *Menu) try(ctx context.Context, p Probe, item Item) (ok bool, msg string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, msg, err = false, "", fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Give(ctx, item)
}

// Inventory returns the fallback inventory. A missing or malformed value
// reads as empty.
func (m *Menu) Inventory(ctx context.Context) []InventoryRecord {
	if m.kv == nil {
		return nil
	}
	raw, ok, err := m.kv.Get(ctx, InventoryKey)
	if err != nil || !ok || raw == "" {
		return nil
	}
	var inv []InventoryRecord
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		savedata.Logger("devmenu").Warn("fallback inventory unreadable, ignoring", "err", err)
		return nil
	}
	return inv
}

func (m *Menu) appendInventory(ctx context.Context, rec InventoryRecord) error {
	if m.kv == nil {
		return savedata.ErrBackendUnavailable
	}
	m.invMu.Lock()
	defer m.invMu.Unlock()

	inv := append(m.Inventory(ctx), rec)
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, InventoryKey, string(data))
}

// EventProbe announces the give on the event bus for any listener that
// wants it. It never claims the item was taken.
type EventProbe struct {
	Bus *savedata.EventBus
}

// Name implements Probe.
func (EventProbe) Name() string { return "event" }

// Give publishes the dev-give event and reports that nothing was taken.
func (p EventProbe) Give(_ context.Context, item Item) (bool, string, error) {
	if p.Bus == nil {
		return false, "", errors.New("no event bus")
	}
	p.Bus.Publish(savedata.PassEvent{Type: "dev-give", Name: item.Name, Status: string(item.Kind)})
	return false, "dispatched event dev-give", nil
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc struct {
	Label string
	Fn    func(ctx context.Context, item Item) (bool, string, error)
}

// Name implements Probe.
func (p ProbeFunc) Name() string { return p.Label }

// Give calls Fn.
func (p ProbeFunc) Give(ctx context.Context, item Item) (bool, string, error) {
	return p.Fn(ctx, item)
}
