// Package sh provides the interactive host shell talking to nodes.
package sh

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/gos.go/pkg/comm/mqtt"
	"github.com/robotalks/gos.go/pkg/config"
	"github.com/robotalks/gos.go/pkg/msgs"
)

// Config provides the options to reach nodes.
type Config struct {
	// Target is the node to connect at start, see Dial.
	Target string
	// MQTTURL is the broker used for discovery,
	// e.g. mqtt://host:port/topic-prefix
	MQTTURL string
	// Name is announced to the node during the link handshake.
	Name string
	// Timeout bounds each request.
	Timeout time.Duration
}

var defaultConfig = Config{
	Name:    "gosctl",
	Timeout: 5 * time.Second,
}

func init() {
	if val := os.Getenv(config.EnvAddr); val != "" {
		defaultConfig.Target = val
	}
	if val := os.Getenv(config.EnvMQTTURL); val != "" {
		defaultConfig.MQTTURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Target, "target", defaultConfig.Target, "Node to connect, e.g. ipl://host:7700, ws://host:8080/sysmon.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL for discovery.")
	flag.StringVar(&defaultConfig.Name, "name", defaultConfig.Name, "Host name announced to the node.")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Request timeout.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *Config
	Conn   *Conn
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

// ErrNotConnected indicates a command requires a connection.
var ErrNotConnected = errors.New("not connected")

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(ErrNotConnected)
			return
		}
		fn(c)
	}
}

// MustHaveLink wraps command func requires a transport link connection.
func MustHaveLink(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return MustBeConnected(func(c *ishell.Context) {
		if ShellFrom(c).Conn.Link == nil {
			c.Err(ErrNoLink)
			return
		}
		fn(c)
	})
}

// RequestContext returns a context bounded by the request timeout.
func RequestContext(c *ishell.Context) (context.Context, context.CancelFunc) {
	s := ShellFrom(c)
	if s.Config.Timeout > 0 {
		return context.WithTimeout(context.Background(), s.Config.Timeout)
	}
	return context.WithCancel(context.Background())
}

// Output prints v as JSON when requested, otherwise the text.
func Output(c *ishell.Context, v interface{}, text string) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// DiscoverNodes lists the nodes announced on the broker.
func (s *Shell) DiscoverNodes() ([]*msgs.NodeStatus, error) {
	if s.Config.MQTTURL == "" {
		return nil, fmt.Errorf("MQTT URL not specified")
	}
	conn, err := mqtt.Dial(s.Config.MQTTURL, s.Config.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return mqtt.Discover(context.Background(), conn, mqtt.DefaultDiscoverTimeout)
}

// SelectNode discovers online nodes and asks for a choice.
func (s *Shell) SelectNode() (*msgs.NodeStatus, error) {
	nodes, err := s.DiscoverNodes()
	if err != nil {
		return nil, err
	}
	online := make([]*msgs.NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		if node.Online {
			online = append(online, node)
		}
	}
	if len(online) == 0 {
		return nil, nil
	}
	var index int
	if len(online) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 nodes discovered in non-interactive mode")
		}
		items := make([]string, len(online))
		for n, node := range online {
			items[n] = FormatNode(node)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return online[index], nil
}

// Connect connects the node at target.
func (s *Shell) Connect(target string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	conn, err := Dial(ctx, target, s.Config.Name)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.Name()))
	return nil
}

// Disconnect disconnects current node.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if target := s.Config.Target; target != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", target)
		}
		if err := s.Connect(target); err != nil {
			log.Fatalf("connect %q failed: %v", target, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// FormatNode prints NodeStatus into friendly string for display.
func FormatNode(node *msgs.NodeStatus) string {
	state := "offline"
	if node.Online {
		state = "online"
	}
	text := fmt.Sprintf("%s (%s)", node.Name, state)
	if node.BootState != "" {
		text += " boot=" + node.BootState
	}
	if node.LinkState != "" {
		text += " link=" + node.LinkState
	}
	if node.Software != nil && node.Software.Size > 0 {
		text += fmt.Sprintf(" app=%q", node.Software.Name)
	}
	return text
}

var (
	// DiscoverCmd discovers nodes.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"nodes"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			nodes, err := s.DiscoverNodes()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if nodes == nil {
					nodes = []*msgs.NodeStatus{}
				}
				Output(c, nodes, "")
				return
			}
			if len(nodes) == 0 {
				c.Println("No nodes found")
				return
			}
			for _, node := range nodes {
				c.Println(FormatNode(node))
			}
		},
	}

	// ConnectCmd connects a node.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[TARGET]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var target string
			if len(c.Args) > 0 {
				target = c.Args[0]
			} else {
				node, err := s.SelectNode()
				if err != nil {
					c.Err(err)
					return
				}
				if node == nil {
					c.Err(fmt.Errorf("no node discovered"))
					return
				}
				target = MQTTTarget(s.Config.MQTTURL, node.Name)
			}
			if err := s.Connect(target); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current node.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(NewConfig()).Run(flag.Args()...)
}
