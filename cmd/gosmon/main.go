package main

import (
	"flag"
	"log"
	"os"
	"reflect"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/gos.go/pkg/comm/mqtt"
	"github.com/robotalks/gos.go/pkg/config"
)

var (
	mqttURL = "mqtt://localhost:1883/gos/"
)

func init() {
	if val := os.Getenv(config.EnvMQTTURL); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conn, err := mqtt.Dial(mqttURL, 10*time.Second)
	if err != nil {
		log.Fatalln(err)
	}
	defer conn.Close()

	mqtt.Events(conn, func(node, topic string, msg proto.Message) {
		log.Printf("%s/%s: [%s] %s", node, topic,
			reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
			proto.CompactTextString(msg))
	})
	<-(chan struct{})(nil)
}
