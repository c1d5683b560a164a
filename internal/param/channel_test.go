package param

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/fc"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
	"mavgcs/internal/persistence"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	mu        sync.Mutex
	sent      []mavlink.Message
	connected bool
	onSend    func(msg mavlink.Message)
}

func (s *stubSender) SendFrame(_ context.Context, msg mavlink.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	onSend := s.onSend
	s.mu.Unlock()
	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (s *stubSender) Connected() bool { return s.connected }

func (s *stubSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func echoFrame(pv mavlink.ParamValue) mavlink.Frame {
	return mavlink.Frame{SystemID: 1, ComponentID: 1, Message: pv}
}

func newTestChannel(t *testing.T, b bus.MessageBus, sender fc.Sender, withRepo bool) *Channel {
	t.Helper()
	var repo *persistence.ParamRepo
	if withRepo {
		db, err := persistence.Open(context.Background(), filepath.Join(t.TempDir(), "params.db"))
		if err != nil {
			t.Fatalf("open test db: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		repo = persistence.NewParamRepo(db)
	}
	c := NewChannel(discardLogger(), b, sender, repo, 1, 1)
	c.timeout = 500 * time.Millisecond
	return c
}

func TestRequestNormalizesAndMatchesEcho(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		req, ok := msg.(mavlink.ParamRequestRead)
		if !ok {
			return
		}
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{
			Name:  req.Name,
			Value: 5500,
			Type:  mavlink.ParamTypeReal32,
			Index: 12,
			Count: 900,
		}))
	}
	c := newTestChannel(t, b, sender, false)

	pv, err := c.Request(context.Background(), "batt_capacity")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if pv.Name != "BATT_CAPACITY" || pv.Value != 5500 {
		t.Fatalf("unexpected echo: %+v", pv)
	}

	sender.mu.Lock()
	req := sender.sent[0].(mavlink.ParamRequestRead)
	sender.mu.Unlock()
	if req.Name != "BATT_CAPACITY" || req.Index != -1 {
		t.Fatalf("unexpected request frame: %+v", req)
	}
}

func TestRequestIgnoresOtherParamsAndSenders(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		if _, ok := msg.(mavlink.ParamRequestRead); !ok {
			return
		}
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{Name: "OTHER_PARAM", Value: 1}))
		b.Publish(link.TopicFrame, mavlink.Frame{
			SystemID: 99, ComponentID: 1,
			Message: mavlink.ParamValue{Name: "FS_THR_ENABLE", Value: 2},
		})
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{Name: "FS_THR_ENABLE", Value: 3}))
	}
	c := newTestChannel(t, b, sender, false)

	pv, err := c.Request(context.Background(), "FS_THR_ENABLE")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if pv.Value != 3 {
		t.Fatalf("matched the wrong echo: %+v", pv)
	}
}

func TestRequestTimesOut(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	c := newTestChannel(t, b, &stubSender{connected: true}, false)

	_, err := c.Request(context.Background(), "NEVER_ANSWERED")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRequestRequiresConnection(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	c := newTestChannel(t, b, &stubSender{connected: false}, false)

	if _, err := c.Request(context.Background(), "X"); !errors.Is(err, fc.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSetConfirmsEcho(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		set, ok := msg.(mavlink.ParamSet)
		if !ok {
			return
		}
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{
			Name:  set.Name,
			Value: set.Value,
			Type:  set.Type,
		}))
	}
	c := newTestChannel(t, b, sender, false)

	pv, err := c.Set(context.Background(), "fs_thr_enable", 2, mavlink.ParamTypeUint8, false)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if pv.Value != 2 || pv.Name != "FS_THR_ENABLE" {
		t.Fatalf("unexpected confirmation: %+v", pv)
	}
}

func TestSetRejectedWhenEchoDiffers(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		set, ok := msg.(mavlink.ParamSet)
		if !ok {
			return
		}
		// Firmware clamps the write and echoes what it kept.
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{Name: set.Name, Value: 100, Type: set.Type}))
	}
	c := newTestChannel(t, b, sender, false)

	pv, err := c.Set(context.Background(), "ANGLE_MAX", 9000, mavlink.ParamTypeInt16, false)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if pv.Value != 100 {
		t.Fatalf("rejection must carry the kept value, got %+v", pv)
	}
}

func TestSetSkipsUnchangedCachedValue(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		set, ok := msg.(mavlink.ParamSet)
		if !ok {
			return
		}
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{Name: set.Name, Value: set.Value, Type: set.Type}))
	}
	c := newTestChannel(t, b, sender, true)

	if _, err := c.Set(context.Background(), "BATT_CAPACITY", 5500, mavlink.ParamTypeReal32, false); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	writes := sender.sendCount()

	// Same value and type: served from the cache, nothing transmitted.
	if _, err := c.Set(context.Background(), "BATT_CAPACITY", 5500, mavlink.ParamTypeReal32, false); err != nil {
		t.Fatalf("cached Set: %v", err)
	}
	if got := sender.sendCount(); got != writes {
		t.Fatalf("cached write still hit the wire: %d -> %d sends", writes, got)
	}

	// force pushes the write through regardless.
	if _, err := c.Set(context.Background(), "BATT_CAPACITY", 5500, mavlink.ParamTypeReal32, true); err != nil {
		t.Fatalf("forced Set: %v", err)
	}
	if got := sender.sendCount(); got != writes+1 {
		t.Fatalf("forced write did not hit the wire")
	}

	// A different value must also hit the wire.
	if _, err := c.Set(context.Background(), "BATT_CAPACITY", 6000, mavlink.ParamTypeReal32, false); err != nil {
		t.Fatalf("changed Set: %v", err)
	}
	if got := sender.sendCount(); got != writes+2 {
		t.Fatalf("changed write did not hit the wire")
	}
}

func TestSetManyReportsPerParameter(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	sender.onSend = func(msg mavlink.Message) {
		set, ok := msg.(mavlink.ParamSet)
		if !ok {
			return
		}
		if set.Name == "STUCK_PARAM" {
			return // never echoed
		}
		b.Publish(link.TopicFrame, echoFrame(mavlink.ParamValue{Name: set.Name, Value: set.Value, Type: set.Type}))
	}
	c := newTestChannel(t, b, sender, false)

	results := c.SetMany(context.Background(), []SetRequest{
		{Name: "good_param", Value: 1, Type: mavlink.ParamTypeUint8},
		{Name: "stuck_param", Value: 2, Type: mavlink.ParamTypeUint8},
		{Name: "another_good", Value: 3, Type: mavlink.ParamTypeUint8},
	}, false)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Name != "GOOD_PARAM" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, ErrTimeout) {
		t.Fatalf("stuck parameter must time out, got %v", results[1].Err)
	}
	if results[2].Err != nil {
		t.Fatalf("failure must not stop later writes: %+v", results[2])
	}
}

func TestStartCachesObservedParamValues(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	sender := &stubSender{connected: true}
	c := newTestChannel(t, b, sender, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	b.Publish(link.TopicParamValue, mavlink.Frame{
		SystemID: 1, ComponentID: 1,
		Message: mavlink.ParamValue{Name: "RTL_ALT", Value: 1500, Type: mavlink.ParamTypeInt16},
	})
	// From another system: must not land in the cache.
	b.Publish(link.TopicParamValue, mavlink.Frame{
		SystemID: 42, ComponentID: 1,
		Message: mavlink.ParamValue{Name: "FOREIGN", Value: 1},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, found, err := c.repo.Get(context.Background(), "RTL_ALT")
		if err != nil {
			t.Fatalf("cache lookup: %v", err)
		}
		if found {
			if rec.Value != 1500 || rec.Type != mavlink.ParamTypeInt16 {
				t.Fatalf("unexpected cached record: %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observed PARAM_VALUE never cached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, found, _ := c.repo.Get(context.Background(), "FOREIGN"); found {
		t.Fatalf("foreign system's parameter must not be cached")
	}
}
