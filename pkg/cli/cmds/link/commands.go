// Package link exposes the built-in requests of the transport link.
package link

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/gos.go/pkg/cli/sh"
	"github.com/robotalks/gos.go/pkg/kernel"
)

// TaskInfo combines the static and variable data of a task.
type TaskInfo struct {
	Index     uint16        `json:"index"`
	Name      string        `json:"name"`
	Priority  uint8         `json:"priority"`
	StackSize uint32        `json:"stack_size"`
	State     string        `json:"state"`
	RunCount  uint32        `json:"run_count"`
	Uptime    time.Duration `json:"uptime"`
}

func parseIndex(c *ishell.Context) (uint16, bool) {
	if len(c.Args) < 1 {
		c.Err(fmt.Errorf("INDEX required"))
		return 0, false
	}
	val, err := strconv.ParseUint(c.Args[0], 0, 16)
	if err != nil {
		c.Err(fmt.Errorf("Invalid INDEX: %v", err))
		return 0, false
	}
	return uint16(val), true
}

var (
	// PingCmd sends a ping.
	PingCmd = ishell.Cmd{
		Name:    "ping",
		Aliases: []string{"p"},
		Help:    "[TEXT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			payload := []byte(strings.Join(c.Args, " "))
			start := time.Now()
			echo, err := sh.ShellFrom(c).Conn.Ping(ctx, payload)
			if err != nil {
				c.Err(err)
				return
			}
			rtt := time.Since(start)
			sh.Output(c, map[string]interface{}{"echo": string(echo), "rtt": rtt},
				fmt.Sprintf("%q %v", echo, rtt))
		}),
	}

	// CPULoadCmd queries the CPU load.
	CPULoadCmd = ishell.Cmd{
		Name:    "cpu",
		Aliases: []string{"load"},
		Help:    "",
		Func: sh.MustHaveLink(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			load, err := sh.ShellFrom(c).Conn.Link.CPULoad(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, map[string]float64{"cpu_load": load}, fmt.Sprintf("%.2f%%", load))
		}),
	}

	// TasksCmd lists the tasks.
	TasksCmd = ishell.Cmd{
		Name:    "tasks",
		Aliases: []string{"ps"},
		Help:    "",
		Func: sh.MustHaveLink(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			client := sh.ShellFrom(c).Conn.Link
			n, err := client.TaskCount(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			tasks := make([]TaskInfo, 0, n)
			for i := 0; i < n; i++ {
				data, err := client.TaskData(ctx, uint16(i))
				if err != nil {
					c.Err(err)
					return
				}
				vars, err := client.TaskVariableData(ctx, uint16(i))
				if err != nil {
					c.Err(err)
					return
				}
				tasks = append(tasks, TaskInfo{
					Index:     data.Index,
					Name:      data.Name,
					Priority:  data.Priority,
					StackSize: data.StackSize,
					State:     vars.State.String(),
					RunCount:  vars.RunCount,
					Uptime:    vars.Uptime,
				})
			}
			if sh.ShellFrom(c).OutputJSON {
				sh.Output(c, tasks, "")
				return
			}
			c.Printf("%-5s %-16s %-4s %-8s %-10s %-8s %s\n", "INDEX", "NAME", "PRI", "STACK", "STATE", "RUNS", "UPTIME")
			for _, t := range tasks {
				c.Printf("%-5d %-16s %-4d %-8d %-10s %-8d %v\n",
					t.Index, t.Name, t.Priority, t.StackSize, t.State, t.RunCount, t.Uptime)
			}
		}),
	}

	// TaskModifyCmd changes the state of a task.
	TaskModifyCmd = ishell.Cmd{
		Name:    "task.modify",
		Aliases: []string{"kill"},
		Help:    "INDEX suspend|resume|block|unblock|delete",
		Func: sh.MustHaveLink(func(c *ishell.Context) {
			index, ok := parseIndex(c)
			if !ok {
				return
			}
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("operation required"))
				return
			}
			op, err := kernel.ParseTaskOp(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			if err = sh.ShellFrom(c).Conn.Link.ModifyTask(ctx, index, op); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// TimeSyncCmd sets the clock of the node.
	TimeSyncCmd = ishell.Cmd{
		Name:    "time.sync",
		Aliases: []string{"ts"},
		Help:    "[RFC3339 TIME]",
		Func: sh.MustHaveLink(func(c *ishell.Context) {
			t := time.Now()
			if len(c.Args) > 0 {
				var err error
				if t, err = time.Parse(time.RFC3339, c.Args[0]); err != nil {
					c.Err(fmt.Errorf("Invalid TIME: %v", err))
					return
				}
			}
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			now, err := sh.ShellFrom(c).Conn.Link.SyncTime(ctx, t)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, map[string]time.Time{"time": now}, now.Format(time.RFC3339Nano))
		}),
	}

	// ResetCmd resets the node.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Help: "",
		Func: sh.MustHaveLink(func(c *ishell.Context) {
			ctx, cancel := sh.RequestContext(c)
			defer cancel()
			if err := sh.ShellFrom(c).Conn.Link.Reset(ctx); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}
)

func init() {
	sh.AddCmds(
		&PingCmd,
		&CPULoadCmd,
		&TasksCmd,
		&TaskModifyCmd,
		&TimeSyncCmd,
		&ResetCmd,
	)
}
