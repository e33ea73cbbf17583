package config

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// Defaults of unset values.
const (
	DefaultStoragePath = "gos-storage.bin"
	DefaultStorageSize = 1 << 20
	DefaultProgramPath = "gos-program.bin"
	DefaultProgramBase = 0x08000000
	DefaultProgramSize = 0x40000
	DefaultIPLListen   = ":7700"
	DefaultBootChunk   = 1024
)

// DefaultNodeName derives a stable node name from the machine id.
func DefaultNodeName() string {
	id, err := machineid.ProtectedID("gos")
	if err != nil || len(id) < 8 {
		glog.Warningf("config: machine id unavailable: %v", err)
		return "gos-node"
	}
	return "gos-" + id[:8]
}

// Normalize applies defaults to unset values.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	applyDefaults(cfg)
	if len(cfg.Node.Name) > ipl.NameSize {
		cfg.Node.Name = cfg.Node.Name[:ipl.NameSize]
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Node.Name == "" {
		cfg.Node.Name = DefaultNodeName()
	}

	s := &cfg.Storage
	if s.Path == "" {
		s.Path = DefaultStoragePath
	}
	if s.Size == 0 {
		s.Size = DefaultStorageSize
	}
	layout := sdh.DefaultLayout()
	if s.CatalogBase == 0 {
		s.CatalogBase = layout.CatalogBase
	}
	if s.Capacity == 0 {
		s.Capacity = layout.Capacity
	}
	if s.BinaryAreaStart == 0 {
		s.BinaryAreaStart = layout.BinaryAreaStart
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = layout.ChunkSize
	}

	p := &cfg.Program
	if p.Path == "" {
		p.Path = DefaultProgramPath
	}
	if p.Base == 0 {
		p.Base = DefaultProgramBase
	}
	if p.Size == 0 {
		p.Size = DefaultProgramSize
	}
	if p.AppStart == 0 {
		p.AppStart = p.Base + 0x4000
	}
	if p.MaxAppSize == 0 && p.Base+p.Size > p.AppStart {
		p.MaxAppSize = p.Base + p.Size - p.AppStart
	}

	l := &cfg.IPL
	def := ipl.DefaultConfig()
	if l.Listen == "" {
		l.Listen = DefaultIPLListen
	}
	if l.MaxDiscoverAttempts == 0 {
		l.MaxDiscoverAttempts = def.MaxDiscoverAttempts
	}
	if l.Backoff == 0 {
		l.Backoff = def.Backoff
	}
	if l.ResponseTimeout == 0 {
		l.ResponseTimeout = def.ResponseTimeout
	}
	if l.SendTimeout == 0 {
		l.SendTimeout = def.SendTimeout
	}
	if l.ReceiveTimeout == 0 {
		l.ReceiveTimeout = def.ReceiveTimeout
	}
	if l.MaxPayloadLength == 0 {
		l.MaxPayloadLength = def.MaxPayloadLength
	}
	if l.RequestTimeout == 0 {
		l.RequestTimeout = def.RequestTimeout
	}

	if cfg.Sysmon.IdleTimeout == 0 {
		cfg.Sysmon.IdleTimeout = sdh.DefaultIdleTimeout
	}
	if cfg.Sysmon.FeedbackTimeout == 0 {
		cfg.Sysmon.FeedbackTimeout = sdh.DefaultFeedbackTimeout
	}

	if cfg.Boot.ChunkSize == 0 {
		cfg.Boot.ChunkSize = DefaultBootChunk
	}
}
