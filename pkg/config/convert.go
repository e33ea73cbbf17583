package config

import (
	"github.com/robotalks/gos.go/pkg/boot"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// Layout returns the catalog layout of the storage device.
func (c *Config) Layout() sdh.Layout {
	return sdh.Layout{
		CatalogBase:     c.Storage.CatalogBase,
		Capacity:        c.Storage.Capacity,
		BinaryAreaStart: c.Storage.BinaryAreaStart,
		ChunkSize:       c.Storage.ChunkSize,
	}
}

// LinkConfig returns the transport link configuration.
func (c *Config) LinkConfig() ipl.Config {
	conf := ipl.DefaultConfig()
	conf.Name = c.Node.Name
	// a negative count retries forever.
	if conf.MaxDiscoverAttempts = c.IPL.MaxDiscoverAttempts; conf.MaxDiscoverAttempts < 0 {
		conf.MaxDiscoverAttempts = 0
	}
	conf.Backoff = c.IPL.Backoff
	conf.ResponseTimeout = c.IPL.ResponseTimeout
	conf.SendTimeout = c.IPL.SendTimeout
	conf.ReceiveTimeout = c.IPL.ReceiveTimeout
	conf.MaxPayloadLength = c.IPL.MaxPayloadLength
	conf.RequestTimeout = c.IPL.RequestTimeout
	return conf
}

// BootOptions returns the installer options.
func (c *Config) BootOptions() []boot.Option {
	return []boot.Option{
		boot.WithAppRegion(c.Program.AppStart, c.Program.MaxAppSize),
		boot.WithChunkSize(c.Boot.ChunkSize),
		boot.WithPollInterval(c.Boot.PollInterval),
	}
}
