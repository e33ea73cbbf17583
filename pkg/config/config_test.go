package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/sdh"
)

const sample = `
node:
  name: bench-node
storage:
  path: /tmp/storage.bin
  size: 0x20000
  capacity: 8
ipl:
  listen: 127.0.0.1:7700
  backoff: 250ms
  max_discover_attempts: -1
sysmon:
  mqtt_url: mqtt://localhost:1883/gos
  websocket_listen: :8080
boot:
  wait_for_connection: true
`

func TestLoadNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	// Validate doesn't mutate.
	require.Equal(t, uint32(0), cfg.Storage.CatalogBase)

	Normalize(cfg)
	require.Equal(t, "bench-node", cfg.Node.Name)
	require.Equal(t, uint32(0x20000), cfg.Storage.Size)
	require.Equal(t, sdh.Layout{CatalogBase: 0x100, Capacity: 8, BinaryAreaStart: 0x1000, ChunkSize: 1024}, cfg.Layout())
	require.Equal(t, uint32(DefaultProgramBase+0x4000), cfg.Program.AppStart)
	require.Equal(t, uint32(DefaultProgramSize-0x4000), cfg.Program.MaxAppSize)
	require.True(t, cfg.Boot.WaitForConnection)

	link := cfg.LinkConfig()
	require.Equal(t, "bench-node", link.Name)
	require.Equal(t, 250*time.Millisecond, link.Backoff)
	require.Equal(t, 0, link.MaxDiscoverAttempts)
	require.Equal(t, uint32(4096), link.MaxPayloadLength)
	require.Len(t, cfg.BootOptions(), 3)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("node:\n  nmae: x\n"))
	require.Error(t, err)

	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", Config{Node: NodeConfig{Name: "n"}}, true},
		{"non-ascii name", Config{Node: NodeConfig{Name: "nöde"}}, false},
		{"storage too small", Config{Node: NodeConfig{Name: "n"}, Storage: StorageConfig{Size: 0x800}}, false},
		{"record overlaps catalog", Config{Node: NodeConfig{Name: "n"}, BootCfg: BootCfgConfig{Addr: 0xf0}}, false},
		{"record on own device", Config{Node: NodeConfig{Name: "n"}, BootCfg: BootCfgConfig{Path: "cfg.bin", Addr: 0xf0}}, true},
		{"app region outside program", Config{Node: NodeConfig{Name: "n"}, Program: ProgramConfig{AppStart: 0x1000}}, false},
		{"chunk exceeds payload", Config{Node: NodeConfig{Name: "n"}, IPL: IPLConfig{MaxPayloadLength: 512}}, false},
		{"small chunk", Config{Node: NodeConfig{Name: "n"}, Storage: StorageConfig{ChunkSize: 256}, IPL: IPLConfig{MaxPayloadLength: 512}}, true},
		{"negative idle timeout", Config{Node: NodeConfig{Name: "n"}, Sysmon: SysmonConfig{IdleTimeout: -time.Second}}, false},
		{"negative feedback timeout", Config{Node: NodeConfig{Name: "n"}, Sysmon: SysmonConfig{FeedbackTimeout: -1}}, false},
		{"negative backoff", Config{Node: NodeConfig{Name: "n"}, IPL: IPLConfig{Backoff: -time.Millisecond}}, false},
		{"bad mqtt scheme", Config{Node: NodeConfig{Name: "n"}, Sysmon: SysmonConfig{MQTTURL: "http://broker"}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(&c.cfg)
			if c.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestNormalizeTruncatesName(t *testing.T) {
	cfg := &Config{Node: NodeConfig{Name: "a-very-long-node-name"}}
	Normalize(cfg)
	require.Equal(t, "a-very-long-node", cfg.Node.Name)
}

func TestApplyEnv(t *testing.T) {
	os.Setenv(EnvMQTTURL, "mqtt://broker:1883")
	os.Setenv(EnvAddr, ":9000")
	defer os.Unsetenv(EnvMQTTURL)
	defer os.Unsetenv(EnvAddr)
	cfg := &Config{IPL: IPLConfig{Listen: ":7701"}}
	ApplyEnv(cfg)
	require.Equal(t, "mqtt://broker:1883", cfg.Sysmon.MQTTURL)
	require.Equal(t, ":7701", cfg.IPL.Listen)
}
