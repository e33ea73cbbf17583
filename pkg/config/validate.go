package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// chunkRequestOverhead is the chunk request header ahead of the data.
const chunkRequestOverhead = 7

// Validate checks configuration correctness with defaults applied to
// unset values. It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	c := *cfg
	applyDefaults(&c)

	for i := 0; i < len(c.Node.Name); i++ {
		if c.Node.Name[i] < 0x20 || c.Node.Name[i] > 0x7e {
			return fmt.Errorf("node name %q must contain printable ASCII characters only", c.Node.Name)
		}
	}

	layout := c.Layout()
	if err := layout.Validate(c.Storage.Size); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.BootCfg.Path == "" && uint64(c.BootCfg.Addr)+bootcfg.RecordSize > uint64(layout.CatalogBase) {
		return fmt.Errorf("bootcfg: record at 0x%x overlaps catalog at 0x%x", c.BootCfg.Addr, layout.CatalogBase)
	}

	p := c.Program
	if p.AppStart < p.Base || uint64(p.AppStart)+uint64(p.MaxAppSize) > uint64(p.Base)+uint64(p.Size) {
		return fmt.Errorf("program: application region 0x%08x+0x%x outside 0x%08x+0x%x",
			p.AppStart, p.MaxAppSize, p.Base, p.Size)
	}
	if p.MaxAppSize == 0 {
		return fmt.Errorf("program: empty application region")
	}

	l := c.IPL
	if min := uint32(3 + sdh.DescriptorSize); l.MaxPayloadLength < min {
		return fmt.Errorf("ipl: max_payload_length %d below %d", l.MaxPayloadLength, min)
	}
	if c.Storage.ChunkSize+chunkRequestOverhead > l.MaxPayloadLength {
		return fmt.Errorf("storage: chunk_size %d exceeds ipl max_payload_length %d",
			c.Storage.ChunkSize, l.MaxPayloadLength)
	}

	if c.Sysmon.MQTTURL != "" {
		u, err := url.Parse(c.Sysmon.MQTTURL)
		if err != nil {
			return fmt.Errorf("sysmon: mqtt_url: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("sysmon: unsupported mqtt_url scheme %q", u.Scheme)
		}
	}

	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"ipl: backoff", l.Backoff},
		{"ipl: response_timeout", l.ResponseTimeout},
		{"ipl: send_timeout", l.SendTimeout},
		{"ipl: receive_timeout", l.ReceiveTimeout},
		{"ipl: request_timeout", l.RequestTimeout},
		{"sysmon: idle_timeout", c.Sysmon.IdleTimeout},
		{"sysmon: feedback_timeout", c.Sysmon.FeedbackTimeout},
		{"boot: poll_interval", c.Boot.PollInterval},
	} {
		if d.val < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	if c.Boot.ChunkSize < 0 {
		return fmt.Errorf("boot: chunk_size must not be negative")
	}
	return nil
}
