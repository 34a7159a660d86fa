package panel

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/daemonp/satel2mqtt/internal/config"
	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/satel"
	"github.com/daemonp/satel2mqtt/internal/types"
)

// fakeIntegra simulates an unencrypted panel behind a TCP listener. It
// serves any number of sequential connections so reconnect behaviour can
// be exercised, answering version, name and status queries and acking
// control commands.
type fakeIntegra struct {
	t  *testing.T
	ln net.Listener

	mu         sync.Mutex
	conn       net.Conn
	rejectCode byte // when non-zero, control commands are rejected with it
}

func newFakeIntegra(t *testing.T) *fakeIntegra {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fp := &fakeIntegra{t: t, ln: ln}
	go fp.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakeIntegra) port() int {
	return fp.ln.Addr().(*net.TCPAddr).Port
}

// drop closes the active session, simulating a network failure.
func (fp *fakeIntegra) drop() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.conn != nil {
		fp.conn.Close()
		fp.conn = nil
	}
}

func (fp *fakeIntegra) setRejectCode(code byte) {
	fp.mu.Lock()
	fp.rejectCode = code
	fp.mu.Unlock()
}

func (fp *fakeIntegra) acceptLoop() {
	for {
		conn, err := fp.ln.Accept()
		if err != nil {
			return
		}
		fp.mu.Lock()
		fp.conn = conn
		fp.mu.Unlock()
		fp.serve(conn)
	}
}

func (fp *fakeIntegra) serve(conn net.Conn) {
	defer conn.Close()
	var dec satel.Decoder
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		dec.Feed(buf[:n])
		for {
			f, derr := dec.Next()
			if derr != nil {
				continue
			}
			if f == nil {
				break
			}
			resp := fp.respond(f.Payload)
			if resp == nil {
				continue
			}
			if _, err := conn.Write(satel.EncodeFrame(resp)); err != nil {
				return
			}
		}
	}
}

func (fp *fakeIntegra) respond(payload []byte) []byte {
	op := payload[0]
	switch op {
	case satel.CmdPanelVersion:
		resp := append([]byte{op, 3}, []byte("11220131129")...)
		return append(resp, 1, 0)
	case satel.CmdDeviceName:
		name := []byte("HALL PIR        ")
		resp := []byte{op, payload[1], payload[2], 0x00}
		return append(resp, name...)
	case satel.CmdNewData:
		return []byte{op}
	case satel.CmdZonesViolation:
		resp := make([]byte, 17)
		resp[0] = op
		resp[1] = 0x04 // zone 3 violated
		return resp
	case satel.CmdOutputsState, satel.CmdPartitionsArmed, satel.CmdPartitionsMode2, satel.CmdPartitionsAlarm:
		resp := make([]byte, 17)
		resp[0] = op
		return resp
	case satel.CmdArmMode0, satel.CmdDisarm, satel.CmdOutputsOn, satel.CmdOutputsOff:
		fp.mu.Lock()
		code := fp.rejectCode
		fp.mu.Unlock()
		return []byte{satel.CmdResult, code}
	default:
		return nil
	}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Satel: config.SatelConfig{
			Host:           "127.0.0.1",
			Port:           port,
			Code:           "1234",
			PollInterval:   3600, // only the initial refresh matters here
			Heartbeat:      30,
			ReconnectDelay: 1,
			ReconnectMax:   2,
		},
		Zones:      []config.ZoneConfig{{Number: 3}},
		Partitions: []config.PartitionConfig{{Number: 1, Name: "Ground Floor"}},
	}
}

// waitForEvent scans the event stream until the predicate matches.
func waitForEvent(t *testing.T, events <-chan interface{}, what string, match func(interface{}) bool) interface{} {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", what)
			}
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestPanelConnectsAndReportsZone(t *testing.T) {
	fp := newFakeIntegra(t)
	p := NewPanel(testConfig(fp.port()), log.NewLogger("error"))
	p.Start()
	defer p.Stop()

	// The initial status refresh runs before the connected event is
	// emitted, so the zone violation arrives first.
	e := waitForEvent(t, p.Events(), "zone 3 violation", func(e interface{}) bool {
		_, ok := e.(types.ZoneEvent)
		return ok
	})
	ze := e.(types.ZoneEvent)
	if ze.Zone != 3 || ze.Old != false || ze.New != true {
		t.Errorf("zone event = %+v, want zone 3 false->true", ze)
	}

	waitForEvent(t, p.Events(), "connected event", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && ce.Connected
	})

	// Names were read from the panel for devices the config left unnamed.
	zones := p.GetZones()
	if len(zones) != 1 || zones[0].Name != "HALL PIR" {
		t.Errorf("zones = %+v, want one zone named HALL PIR", zones)
	}
	if p.GetDevice().Model != "INTEGRA 128" {
		t.Errorf("device model = %q, want INTEGRA 128", p.GetDevice().Model)
	}
}

func TestPanelReconnectsAfterDrop(t *testing.T) {
	fp := newFakeIntegra(t)
	p := NewPanel(testConfig(fp.port()), log.NewLogger("error"))
	p.Start()
	defer p.Stop()

	waitForEvent(t, p.Events(), "initial connect", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && ce.Connected
	})

	fp.drop()

	waitForEvent(t, p.Events(), "disconnect event", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && !ce.Connected
	})

	// The supervisor retries after the configured backoff.
	waitForEvent(t, p.Events(), "reconnect", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && ce.Connected
	})
}

func TestPanelCommands(t *testing.T) {
	fp := newFakeIntegra(t)
	p := NewPanel(testConfig(fp.port()), log.NewLogger("error"))
	p.Start()
	defer p.Stop()

	waitForEvent(t, p.Events(), "connect", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && ce.Connected
	})

	if err := p.Arm([]int{1}, types.ArmModeFull, ""); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := p.Disarm([]int{1}, "4321"); err != nil {
		t.Fatalf("Disarm: %v", err)
	}
	if err := p.SetOutput(7, true, ""); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}

	fp.setRejectCode(0x12) // cannot arm
	err := p.Arm([]int{1}, types.ArmModeFull, "")
	var rejected *satel.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Arm err = %v, want RejectedError", err)
	}
	if rejected.Code != 0x12 {
		t.Errorf("reject code = 0x%02X, want 0x12", rejected.Code)
	}

	// Invalid codes never reach the wire.
	if err := p.Arm([]int{1}, types.ArmModeFull, "12ab"); err == nil {
		t.Error("non-numeric code accepted")
	}
}

func TestPanelNotConnected(t *testing.T) {
	cfg := testConfig(1) // nothing listens on port 1
	p := NewPanel(cfg, log.NewLogger("error"))

	if err := p.Arm([]int{1}, types.ArmModeFull, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Arm err = %v, want ErrNotConnected", err)
	}
	if err := p.RequestStatus(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestStatus err = %v, want ErrNotConnected", err)
	}
}

func TestStopDuringConnect(t *testing.T) {
	// A panel that accepts the connection but never answers: the
	// supervisor gets stuck on the version read. Stop must not wait
	// out the command timeout.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.Copy(io.Discard, conn)
		conn.Close()
	}()

	p := NewPanel(testConfig(ln.Addr().(*net.TCPAddr).Port), log.NewLogger("error"))
	p.Start()

	// Let the supervisor reach the blocking version read.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	p.Stop()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Stop took %v with the version read in flight", elapsed)
	}
}

func TestPanelStop(t *testing.T) {
	fp := newFakeIntegra(t)
	p := NewPanel(testConfig(fp.port()), log.NewLogger("error"))
	p.Start()

	waitForEvent(t, p.Events(), "connect", func(e interface{}) bool {
		ce, ok := e.(types.ConnectionEvent)
		return ok && ce.Connected
	})

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	// The event channel closes once the supervisor exits.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}