package comms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wasteland.fm/internal/aoi"
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/radio/keystore"
	"wasteland.fm/internal/sim/graph"
	"wasteland.fm/internal/sim/tuning"
)

type rig struct {
	t     *testing.T
	g     *graph.Graph
	aoi   *aoi.Manager
	svc   *Service
	keys  *keystore.Store
	boxes map[string]*aoi.Outbox
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// a - b - c - d - e - f - g; regions r1{a,b,c} r2{d,e} r3{f,g}; e is noisy.
func newRig(t *testing.T) *rig {
	t.Helper()
	g, err := graph.New([]graph.Node{
		{ID: "a", Region: "r1", Adjacent: []string{"b"}},
		{ID: "b", Region: "r1", Adjacent: []string{"c"}},
		{ID: "c", Region: "r1", Adjacent: []string{"d"}},
		{ID: "d", Region: "r2", Adjacent: []string{"e"}},
		{ID: "e", Region: "r2", Adjacent: []string{"f"}, Noise: 9},
		{ID: "f", Region: "r3", Adjacent: []string{"g"}},
		{ID: "g", Region: "r3"},
	}, []graph.Region{
		{ID: "r1", Nodes: []string{"a", "b", "c"}},
		{ID: "r2", Nodes: []string{"d", "e"}},
		{ID: "r3", Nodes: []string{"f", "g"}},
	}, graph.Weights{HopDuration: time.Second})
	require.NoError(t, err)

	tun := tuning.Defaults()
	tun.Radio.MaxSubscribersPerFrequency = 4
	tun.Radio.GlobalClearHops = 3
	cfg, err := ConfigFrom(tun)
	require.NoError(t, err)
	cat, err := device.NewCatalog(tun)
	require.NoError(t, err)

	m := aoi.NewManager(aoi.NewRegistry(64, nil), g, nil)
	keys := keystore.New()
	return &rig{
		t:     t,
		g:     g,
		aoi:   m,
		keys:  keys,
		svc:   NewService(cfg, g, m, device.NewManager(cat), keys),
		boxes: map[string]*aoi.Outbox{},
	}
}

func (r *rig) player(id, node string) {
	r.t.Helper()
	box := aoi.NewOutbox(64)
	r.boxes[id] = box
	r.aoi.Register(id, box)
	_, err := r.aoi.Subscribe(id, node)
	require.NoError(r.t, err)
}

func (r *rig) radio(id, node, tier, freq string) {
	r.t.Helper()
	r.player(id, node)
	_, err := r.svc.Equip(id, tier, "alkaline")
	require.NoError(r.t, err)
	if freq != "" {
		_, err = r.svc.Join(id, freq)
		require.NoError(r.t, err)
	}
}

// events flushes every buffer and returns what id received, batches unpacked.
func (r *rig) events(id string) []wireEvent {
	r.t.Helper()
	r.aoi.FlushAll()
	var out []wireEvent
	box := r.boxes[id]
	for {
		select {
		case frame := <-box.Frames():
			var base protocol.BaseMessage
			require.NoError(r.t, json.Unmarshal(frame, &base))
			if base.Type == protocol.TypeBatch {
				var batch struct {
					Events []wireEvent `json:"events"`
				}
				require.NoError(r.t, json.Unmarshal(frame, &batch))
				out = append(out, batch.Events...)
				continue
			}
			var ev wireEvent
			require.NoError(r.t, json.Unmarshal(frame, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func decode[T any](t *testing.T, ev wireEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}

func TestRadio_ZeroBatteryRejectedWithoutDelivery(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "handheld", "12.0")
	r.radio("B", "a", "handheld", "12.0")
	_, err := r.svc.Devices().Restore(device.Record{Owner: "A", Tier: "handheld", Battery: "alkaline", Charge: 0, Frequencies: []string{"12.0"}})
	require.NoError(t, err)

	_, charge, err := r.svc.Radio("A", "12.0", "anyone there?", false)
	require.Equal(t, protocol.ErrResource, protocol.CodeOf(err))
	require.Equal(t, 0, charge)
	d, _ := r.svc.Devices().Get("A")
	require.Equal(t, 0, d.Charge)
	require.Empty(t, r.events("B"))
}

func TestRadio_HandheldRange(t *testing.T) {
	r := newRig(t)
	r.radio("A", "b", "handheld", "12.0")
	r.radio("here", "b", "handheld", "12.0")
	r.radio("near", "c", "handheld", "12.0")
	r.radio("far", "d", "handheld", "12.0")

	env, charge, err := r.svc.Radio("A", "12.0", "meet at the overpass", false)
	require.NoError(t, err)
	require.Equal(t, 98, charge)
	require.Equal(t, []string{"here", "near"}, env.Recipients)

	got := r.events("here")
	require.Len(t, got, 1)
	require.Equal(t, protocol.TypeRadioIncoming, got[0].Type)
	msg := decode[protocol.RadioMessageMsg](t, got[0])
	require.False(t, msg.Garbled)
	require.Equal(t, "meet at the overpass", msg.Text)

	got = r.events("near")
	require.Len(t, got, 1)
	msg = decode[protocol.RadioMessageMsg](t, got[0])
	require.True(t, msg.Garbled)
	require.Equal(t, 1, msg.Distance)
	require.Equal(t, Garble("meet at the overpass", 1, device.RangeNode), msg.Text)

	require.Empty(t, r.events("far"))
	require.Empty(t, r.events("A"))
}

func TestRadio_FieldRegionAndSpill(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "field", "50.0")
	r.radio("sameRegion", "c", "handheld", "50.0")
	r.radio("spill", "d", "handheld", "50.0")
	r.radio("beyond", "f", "handheld", "50.0")

	env, _, err := r.svc.Radio("A", "50.0", "status report", false)
	require.NoError(t, err)
	require.Equal(t, []string{"sameRegion"}, env.Recipients, "d is 3 hops away, outside the 2-hop spill")

	r2 := newRig(t)
	r2.radio("A", "c", "field", "50.0")
	r2.radio("inRegion", "a", "handheld", "50.0")
	r2.radio("spill", "e", "handheld", "50.0")
	r2.radio("beyond", "g", "handheld", "50.0")
	env, _, err = r2.svc.Radio("A", "50.0", "status report", false)
	require.NoError(t, err)
	require.Equal(t, []string{"inRegion", "spill"}, env.Recipients)
	msg := decode[protocol.RadioMessageMsg](t, r2.events("spill")[0])
	require.True(t, msg.Garbled)
	msg = decode[protocol.RadioMessageMsg](t, r2.events("inRegion")[0])
	require.False(t, msg.Garbled)
}

func TestRadio_LongrangeGarblesBeyondClearHops(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "longrange", "77.7")
	r.radio("mid", "d", "handheld", "77.7")
	r.radio("edge", "g", "handheld", "77.7")

	env, _, err := r.svc.Radio("A", "77.7", "broadcast", false)
	require.NoError(t, err)
	require.Equal(t, []string{"edge", "mid"}, env.Recipients)
	require.False(t, decode[protocol.RadioMessageMsg](t, r.events("mid")[0]).Garbled)
	require.True(t, decode[protocol.RadioMessageMsg](t, r.events("edge")[0]).Garbled)
}

func TestRadio_SenderPreconditions(t *testing.T) {
	r := newRig(t)
	r.player("nodev", "a")
	_, _, err := r.svc.Radio("nodev", "12.0", "hi", false)
	require.Equal(t, protocol.ErrResource, protocol.CodeOf(err))

	r.radio("A", "a", "handheld", "")
	_, _, err = r.svc.Radio("A", "12.0", "hi", false)
	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))
	_, _, err = r.svc.Radio("A", "12", "hi", false)
	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))
	_, _, err = r.svc.Radio("A", "0.5", "hi", false)
	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))
	d, _ := r.svc.Devices().Get("A")
	require.Equal(t, 100, d.Charge)
}

func TestJoin_SubscriberLimitAndCapacity(t *testing.T) {
	r := newRig(t)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		r.radio(id, "a", "handheld", "88.1")
	}
	r.radio("p5", "a", "field", "")
	_, err := r.svc.Join("p5", "88.1")
	require.Equal(t, protocol.ErrCapacity, protocol.CodeOf(err))

	// Rejoining as an existing listener is not blocked by the limit.
	_, err = r.svc.Join("p1", "88.1")
	require.NoError(t, err)

	_, err = r.svc.Join("p1", "13.0")
	require.Equal(t, protocol.ErrCapacity, protocol.CodeOf(err))

	st, left, err := r.svc.Leave("p1", "88.1")
	require.NoError(t, err)
	require.True(t, left)
	require.Equal(t, 0, st.Active)
	_, left, err = r.svc.Leave("p1", "88.1")
	require.NoError(t, err)
	require.False(t, left)

	_, err = r.svc.Join("p5", "88.1")
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3", "p4", "p5"}, r.svc.Listeners("88.1"))

	status := r.svc.Frequencies("p5")
	require.True(t, status.Equipped)
	require.Equal(t, 4, status.Listeners["88.1"])
}

func TestRadio_EncryptedDeliversPlaintextOnlyToKeyHolders(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "field", "104.5")
	r.radio("B", "a", "field", "104.5")
	r.radio("C", "b", "field", "104.5")
	_, err := r.keys.Create("104.5", "A", "K1")
	require.NoError(t, err)
	_, err = r.keys.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)

	env, _, err := r.svc.Radio("A", "104.5", "extraction at dawn", true)
	require.NoError(t, err)
	require.True(t, env.Encrypted)
	require.Empty(t, env.Text)

	b := decode[protocol.RadioMessageMsg](t, r.events("B")[0])
	require.Equal(t, "extraction at dawn", b.Text)
	require.Nil(t, b.Sealed)

	c := decode[protocol.RadioMessageMsg](t, r.events("C")[0])
	require.Empty(t, c.Text)
	require.NotNil(t, c.Sealed)
	require.Equal(t, env.Sealed.Fingerprint, c.Fingerprint)

	// C cannot transmit on the channel without the key.
	_, _, err = r.svc.Radio("C", "104.5", "let me in", true)
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	d, _ := r.svc.Devices().Get("C")
	require.Equal(t, 100, d.Charge)
}

func TestInterception_ScannersInRange(t *testing.T) {
	r := newRig(t)
	r.radio("A", "c", "field", "33.3")
	r.radio("close", "d", "scanner", "")
	r.radio("jammed", "e", "scanner", "")
	r.radio("idle", "b", "scanner", "")
	require.NoError(t, r.svc.Scan("close", true))
	require.NoError(t, r.svc.Scan("jammed", true))

	env, _, err := r.svc.Radio("A", "33.3", "convoy moving", false)
	require.NoError(t, err)
	require.Empty(t, env.Recipients)
	require.Equal(t, []string{"close"}, env.Interceptors, "e is 2 hops away but its noise shrinks scanner range to 1")

	got := r.events("close")
	require.Len(t, got, 1)
	require.Equal(t, protocol.TypeRadioIntercepted, got[0].Type)
	msg := decode[protocol.RadioInterceptedMsg](t, got[0])
	require.Equal(t, "A", msg.From)
	require.Equal(t, Garble("convoy moving", 2, device.RangeScanner), msg.Text)
	require.Empty(t, r.events("idle"))

	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(r.svc.Scan("A", true)))
}

func TestInterception_EncryptedStaysOpaque(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "field", "104.5")
	r.radio("S", "a", "scanner", "")
	require.NoError(t, r.svc.Scan("S", true))
	_, err := r.keys.Create("104.5", "A", "K1")
	require.NoError(t, err)

	env, _, err := r.svc.Radio("A", "104.5", "secret", true)
	require.NoError(t, err)
	require.Equal(t, []string{"S"}, env.Interceptors)
	msg := decode[protocol.RadioInterceptedMsg](t, r.events("S")[0])
	require.Empty(t, msg.Text)
	require.NotNil(t, msg.Sealed)
	require.Equal(t, env.Sealed.Fingerprint, msg.Fingerprint)
}

func TestPrivate_DeliveryInterceptionAndSessions(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "handheld", "")
	r.radio("B", "g", "handheld", "")
	r.radio("S", "b", "scanner", "")
	require.NoError(t, r.svc.Scan("S", true))

	_, _, err := r.svc.Private("A", "ghost", "hello")
	require.Equal(t, protocol.ErrNotFound, protocol.CodeOf(err))
	_, _, err = r.svc.Private("A", "A", "hello")
	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(err))

	env, charge, err := r.svc.Private("A", "B", "the cache is under the bridge")
	require.NoError(t, err)
	require.Equal(t, 98, charge)
	require.Equal(t, 1, env.Delivered)
	require.Equal(t, []string{"S"}, env.Interceptors)

	got := r.events("B")
	require.Len(t, got, 1)
	require.Equal(t, protocol.TypeRadioPrivateIn, got[0].Type)
	require.Equal(t, "the cache is under the bridge", decode[protocol.RadioPrivateMsg](t, got[0]).Text)
	require.Equal(t, []string{"B"}, r.svc.PrivatePeers("A"))

	require.NoError(t, r.svc.OnPlayerDisconnect("B"))
	require.Empty(t, r.svc.PrivatePeers("A"))
}

func TestLocal_ShoutReachesAdjacentNodes(t *testing.T) {
	r := newRig(t)
	r.player("A", "b")
	r.player("same", "b")
	r.player("next", "c")
	r.player("far", "d")

	env, err := r.svc.Local("A", "hello", false)
	require.NoError(t, err)
	require.Equal(t, 1, env.Delivered)

	env, err = r.svc.Local("A", "HELLO", true)
	require.NoError(t, err)
	require.Equal(t, 2, env.Delivered)
	require.Len(t, r.events("next"), 1)
	require.Empty(t, r.events("far"))
	require.Len(t, r.events("same"), 2)
}

func TestOnPlayerDisconnect_Idempotent(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "longrange", "12.0")
	_, err := r.svc.Join("A", "13.0")
	require.NoError(t, err)
	require.NoError(t, r.svc.Scan("A", true))

	require.NoError(t, r.svc.OnPlayerDisconnect("A"))
	require.Empty(t, r.svc.Listeners("12.0"))
	require.Empty(t, r.svc.Listeners("13.0"))
	require.Empty(t, r.svc.Devices().Scanners())
	_, ok := r.svc.Devices().Get("A")
	require.False(t, ok)

	require.NoError(t, r.svc.OnPlayerDisconnect("A"))
	require.NoError(t, r.svc.OnPlayerDisconnect("never-seen"))
}

func TestUnequip_LeavesChannels(t *testing.T) {
	r := newRig(t)
	r.radio("A", "a", "field", "12.0")
	_, err := r.svc.Join("A", "99.9")
	require.NoError(t, err)

	_, left, err := r.svc.Unequip("A")
	require.NoError(t, err)
	require.Equal(t, []string{"12.0", "99.9"}, left)
	require.Empty(t, r.svc.Listeners("12.0"))
	_, _, err = r.svc.Unequip("A")
	require.Equal(t, protocol.ErrResource, protocol.CodeOf(err))
}

func TestRestoreDevice_RetunesFrequencies(t *testing.T) {
	r := newRig(t)
	r.player("A", "a")
	d, err := r.svc.RestoreDevice(device.Record{Owner: "A", Tier: "field", Battery: "lithium", Charge: 55, Frequencies: []string{"12.0", "1000.0"}})
	require.NoError(t, err)
	require.Equal(t, []string{"12.0"}, d.Frequencies)
	require.Equal(t, []string{"A"}, r.svc.Listeners("12.0"))
}
