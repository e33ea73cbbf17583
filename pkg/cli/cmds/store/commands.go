// Package store exposes the update store requests.
package store

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/gos.go/pkg/cli/sh"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// DefaultStartAddress is where uploaded binaries are installed by default.
const DefaultStartAddress = 0x08004000

// Binary is the display form of a descriptor.
type Binary struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	StorageOffset uint32 `json:"storage_offset"`
	StartAddress  uint32 `json:"start_address"`
	Size          uint32 `json:"size"`
	CRC32         uint32 `json:"crc32"`
}

func binaryOf(index int, d sdh.BinaryDescriptor) Binary {
	return Binary{
		Index:         index,
		Name:          d.Name,
		StorageOffset: d.StorageOffset,
		StartAddress:  d.Info.StartAddress,
		Size:          d.Info.Size,
		CRC32:         d.Info.CRC32,
	}
}

func (b Binary) String() string {
	return fmt.Sprintf("%-3d %-32s 0x%08x %8d 0x%08x @0x%08x",
		b.Index, b.Name, b.StartAddress, b.Size, b.CRC32, b.StorageOffset)
}

func parseUint(c *ishell.Context, pos int, what string, bits int) (uint64, bool) {
	if len(c.Args) <= pos {
		c.Err(fmt.Errorf("%s required", what))
		return 0, false
	}
	val, err := strconv.ParseUint(c.Args[pos], 0, bits)
	if err != nil {
		c.Err(fmt.Errorf("Invalid %s: %v", what, err))
		return 0, false
	}
	return val, true
}

func store(c *ishell.Context) *sdh.Client {
	return sh.ShellFrom(c).Conn.Store
}

var (
	// ListCmd lists the stored binaries.
	ListCmd = ishell.Cmd{
		Name:    "ls",
		Aliases: []string{"binaries"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			list, err := store(c).List(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			bins := make([]Binary, len(list))
			for i, d := range list {
				bins[i] = binaryOf(i, d)
			}
			if sh.ShellFrom(c).OutputJSON {
				sh.Output(c, bins, "")
				return
			}
			if len(bins) == 0 {
				c.Println("No binaries")
				return
			}
			for _, b := range bins {
				c.Println(b.String())
			}
		}),
	}

	// InfoCmd shows a descriptor.
	InfoCmd = ishell.Cmd{
		Name: "info",
		Help: "INDEX",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			index, ok := parseUint(c, 0, "INDEX", 16)
			if !ok {
				return
			}
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			d, err := store(c).Info(ctx, uint16(index))
			if err != nil {
				c.Err(err)
				return
			}
			b := binaryOf(int(index), d)
			sh.Output(c, b, b.String())
		}),
	}

	// UploadCmd downloads a file into the store.
	UploadCmd = ishell.Cmd{
		Name:    "upload",
		Aliases: []string{"up"},
		Help:    "FILE [NAME] [START_ADDRESS]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("FILE required"))
				return
			}
			image, err := ioutil.ReadFile(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			name := filepath.Base(c.Args[0])
			if len(c.Args) > 1 {
				name = c.Args[1]
			}
			start := uint64(DefaultStartAddress)
			if len(c.Args) > 2 {
				var ok bool
				if start, ok = parseUint(c, 2, "START_ADDRESS", 32); !ok {
					return
				}
			}
			s := sh.ShellFrom(c)
			var bar ishell.ProgressBar
			if s.Interactive && !s.OutputJSON {
				bar = c.ProgressBar()
				bar.Suffix(fmt.Sprintf(" %s", name))
				bar.Start()
			}
			d, err := store(c).Upload(context.Background(), name, uint32(start), image, func(sent, total int) {
				if bar != nil {
					bar.Progress(sent * 100 / total)
				}
			})
			if bar != nil {
				bar.Stop()
			}
			if err != nil {
				c.Err(err)
				return
			}
			b := binaryOf(-1, d)
			sh.Output(c, b, fmt.Sprintf("uploaded %q: %d bytes crc 0x%08x", d.Name, d.Info.Size, d.Info.CRC32))
		}),
	}

	// InstallCmd requests installing a binary.
	InstallCmd = ishell.Cmd{
		Name: "install",
		Help: "INDEX",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			index, ok := parseUint(c, 0, "INDEX", 16)
			if !ok {
				return
			}
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			if err := store(c).Install(ctx, uint16(index)); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// EraseCmd erases a binary.
	EraseCmd = ishell.Cmd{
		Name:    "erase",
		Aliases: []string{"rm"},
		Help:    "INDEX [defrag]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			index, ok := parseUint(c, 0, "INDEX", 16)
			if !ok {
				return
			}
			defrag := len(c.Args) > 1 && c.Args[1] == "defrag"
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			if err := store(c).Erase(ctx, uint16(index), defrag); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// AbortCmd aborts an unfinished download.
	AbortCmd = ishell.Cmd{
		Name: "abort",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			if err := store(c).Abort(ctx); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}
)

func init() {
	sh.AddCmds(
		&ListCmd,
		&InfoCmd,
		&UploadCmd,
		&InstallCmd,
		&EraseCmd,
		&AbortCmd,
	)
}
