package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gpsfix/model"
)

const greeting = "Android Console: type 'help' for a list of commands\r\nOK\r\n"

// emulator accepts console sessions and records every geo fix command.
type emulator struct {
	ln     net.Listener
	reply  func(n int, cmd string) string
	onGeo  func(n int)
	mu     sync.Mutex
	fixes  []string
	others []string
}

func startEmulator(t *testing.T, reply func(n int, cmd string) string) *emulator {
	return startEmulatorWithHook(t, reply, nil)
}

// startEmulatorWithHook calls onGeo with the running fix count before
// answering each geo fix command.
func startEmulatorWithHook(t *testing.T, reply func(n int, cmd string) string, onGeo func(n int)) *emulator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	e := &emulator{ln: ln, reply: reply, onGeo: onGeo}
	go e.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return e
}

func (e *emulator) port() string {
	return fmt.Sprint(e.ln.Addr().(*net.TCPAddr).Port)
}

func (e *emulator) serve() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			_, _ = conn.Write([]byte(greeting))
			r := bufio.NewReader(conn)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				cmd := strings.TrimSpace(line)
				e.mu.Lock()
				n := 0
				if strings.HasPrefix(cmd, "geo fix ") {
					e.fixes = append(e.fixes, cmd)
					n = len(e.fixes)
				} else {
					e.others = append(e.others, cmd)
				}
				e.mu.Unlock()
				if n > 0 && e.onGeo != nil {
					e.onGeo(n)
				}
				out := "OK\r\n"
				if e.reply != nil {
					out = e.reply(n, cmd)
				}
				_, _ = conn.Write([]byte(out))
			}
		}()
	}
}

func (e *emulator) sentFixes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fixes...)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const shortWalk = `
walk:
  cycles: 1
  seed: 3
  legs:
    - heading_degrees: 90
      steps: 3
      step_meters: 5
      step_jitter_meters: 5
      heading_jitter_degrees: 30
      delay_seconds: 1
    - heading_degrees: 180
      steps: 2
      step_meters: 5
      delay_seconds: 1
`

func TestRunWalkCycle(t *testing.T) {
	emu := startEmulator(t, nil)
	cfg := writeFile(t, "gpsfix.yaml", shortWalk)
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer

	err := run(context.Background(), []string{
		"-config", cfg, "-host", "127.0.0.1", "-port", emu.port(), "-accelerated", "-log-format", "json",
	}, &logs, reg)
	require.NoError(t, err)

	fixes := emu.sentFixes()
	require.Len(t, fixes, 6)
	assert.Equal(t, "geo fix 13.2975200387581 52.4559497304728 65 7", fixes[0])
	for _, f := range fixes[1:] {
		assert.Regexp(t, `^geo fix -?\d+(\.\d+)? -?\d+(\.\d+)? 65 7$`, f)
	}
	assert.Contains(t, logs.String(), `"msg":"run complete"`)
	assert.Contains(t, logs.String(), `"session_id"`)

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() == "gpsfix_fixes_total" {
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 6.0, total)
}

func TestRunIsReproducibleWithSeed(t *testing.T) {
	cfg := writeFile(t, "gpsfix.yaml", shortWalk)
	runOnce := func() []string {
		emu := startEmulator(t, nil)
		require.NoError(t, run(context.Background(), []string{
			"-config", cfg, "-host", "127.0.0.1", "-port", emu.port(), "-accelerated",
		}, &bytes.Buffer{}, prometheus.NewRegistry()))
		return emu.sentFixes()
	}
	assert.Equal(t, runOnce(), runOnce())
}

func TestRunReplaysTrack(t *testing.T) {
	emu := startEmulator(t, nil)
	trackPath := writeFile(t, "walk.gpx", `<trkpt lat="52.5" lon="13.4"/><trkpt lat="52.6" lon="13.5"/>`)

	err := run(context.Background(), []string{
		"-host", "127.0.0.1", "-port", emu.port(), "-track", trackPath, "-accelerated",
	}, &bytes.Buffer{}, prometheus.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"geo fix 13.2975200387581 52.4559497304728 65 7",
		"geo fix 13.4 52.5 65 7",
		"geo fix 13.5 52.6 65 7",
	}, emu.sentFixes())
}

func TestRunRejectsCorruptTrackBeforeConnecting(t *testing.T) {
	emu := startEmulator(t, nil)
	trackPath := writeFile(t, "walk.gpx", `<trkpt lat="52.5" lon="13.4"/><trkpt lat="190.0" lon="13.4"/>`)

	err := run(context.Background(), []string{
		"-host", "127.0.0.1", "-port", emu.port(), "-track", trackPath,
	}, &bytes.Buffer{}, prometheus.NewRegistry())
	assert.ErrorIs(t, err, model.ErrParse)
	assert.Empty(t, emu.sentFixes())
}

func TestRunStopsOnRejectedFix(t *testing.T) {
	emu := startEmulator(t, func(n int, _ string) string {
		if n == 3 {
			return "KO: bad coordinates\r\n"
		}
		return "OK\r\n"
	})
	cfg := writeFile(t, "gpsfix.yaml", shortWalk)
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer

	err := run(context.Background(), []string{
		"-config", cfg, "-host", "127.0.0.1", "-port", emu.port(), "-accelerated", "-log-format", "json",
	}, &logs, reg)
	require.ErrorIs(t, err, model.ErrProtocol)

	var stepErr *model.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 2, stepErr.Step)
	assert.Len(t, emu.sentFixes(), 3)
	assert.Contains(t, logs.String(), `"kind":"protocol_error"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(counterFor(t, reg, "walk", "protocol_error")))
}

func TestRunConsoleUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	err = run(context.Background(), []string{"-host", "127.0.0.1", "-port", port, "-timeout", "1s"}, &bytes.Buffer{}, prometheus.NewRegistry())
	assert.ErrorIs(t, err, model.ErrConnection)
}

func TestRunEndlessWalkEndsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emu := startEmulatorWithHook(t, nil, func(n int) {
		if n == 40 {
			cancel()
		}
	})

	err := run(ctx, []string{"-host", "127.0.0.1", "-port", emu.port(), "-accelerated", "-cycles", "0"}, &bytes.Buffer{}, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(emu.sentFixes()), 40)
}

func TestParseFlagsOverridesConfig(t *testing.T) {
	cfgPath := writeFile(t, "gpsfix.yaml", "console:\n  hostname: 10.0.2.2\n  port: 5556\n")

	cfg, opts, err := parseFlags([]string{"-config", cfgPath, "-port", "5580", "-timeout", "2s", "-seed", "9"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.2", cfg.Console.Hostname)
	assert.Equal(t, 5580, cfg.Console.Port)
	assert.Equal(t, 2.0, cfg.Console.TimeoutSeconds)
	assert.Equal(t, uint64(9), cfg.Walk.Seed)
	assert.False(t, opts.accelerated)

	_, _, err = parseFlags([]string{"-port", "0"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, _, err = parseFlags([]string{"-no-such-flag"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func counterFor(t *testing.T, reg *prometheus.Registry, source, result string) prometheus.Collector {
	t.Helper()
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gpsfix_fixes_total",
		Help: "Fixes sent to the console, labeled by source and result.",
	}, []string{"source", "result"})
	err := reg.Register(vec)
	are, ok := err.(prometheus.AlreadyRegisteredError)
	require.True(t, ok, "collector not registered: %v", err)
	return are.ExistingCollector.(*prometheus.CounterVec).WithLabelValues(source, result)
}
