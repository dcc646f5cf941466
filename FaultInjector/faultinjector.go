// Command faultinjector is a thin fault-injection CLI: it reads lines
// of the form "d|c <node_id>" and emits a Disconnect/Connect control
// datagram to the target node's branch port, reusing the same
// gob-over-UDP framing the branch listener already decodes.
package main

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	configurations "coffeewards/Configurations"
	wire "coffeewards/Node/Wire"
)

func main() {
	var input *os.File
	if len(os.Args) > 1 {
		file, err := os.Open(os.Args[1])
		if err != nil {
			fmt.Printf("failed to open %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		defer file.Close()
		input = file
	} else {
		input = os.Stdin
	}

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := applyLine(line); err != nil {
			fmt.Printf("skipping %q: %v\n", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("error reading input: %v\n", err)
	}
}

func applyLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("expected 'd|c node_id'")
	}
	var kind wire.ControlKind
	switch strings.ToLower(fields[0]) {
	case "d":
		kind = wire.ControlDisconnect
	case "c":
		kind = wire.ControlConnect
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	nodeID, err := strconv.Atoi(fields[1])
	if err != nil || nodeID < 1 || nodeID > configurations.NMax {
		return fmt.Errorf("invalid node_id %q", fields[1])
	}
	return sendControl(nodeID, kind)
}

func sendControl(nodeID int, kind wire.ControlKind) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", configurations.BranchPort(nodeID)))
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	env := wire.Envelope{IsControl: true, Control: wire.ControlRequest{Kind: kind}}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return err
	}
	fmt.Printf("sent %s to node %d\n", controlName(kind), nodeID)
	return nil
}

func controlName(kind wire.ControlKind) string {
	if kind == wire.ControlDisconnect {
		return "disconnect"
	}
	return "connect"
}
