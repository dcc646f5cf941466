// Command client is the coffee-machine order simulator: a thin
// process, not part of the coordination core, that reads an order
// file and submits each line as a branch UDP request, printing the
// resulting status.
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
	"time"

	configurations "coffeewards/Configurations"
	wire "coffeewards/Node/Wire"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("usage: client <node_id> <orders_file_path>")
		os.Exit(1)
	}
	nodeID, err := strconv.Atoi(os.Args[1])
	if err != nil || nodeID < 1 || nodeID > configurations.NMax {
		fmt.Printf("invalid node_id: %s\n", os.Args[1])
		os.Exit(1)
	}

	file, err := os.Open(os.Args[2])
	if err != nil {
		fmt.Printf("failed to open orders file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", configurations.BranchPort(nodeID)))
	if err != nil {
		fmt.Printf("failed to resolve branch address: %v\n", err)
		os.Exit(1)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		fmt.Printf("failed to dial branch listener: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	var corrID uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		order, err := parseOrder(line)
		if err != nil {
			fmt.Printf("skipping malformed order %q: %v\n", line, err)
			continue
		}
		corrID++
		order.CorrID = corrID
		status, err := submit(conn, order)
		if err != nil {
			fmt.Printf("order %d (%s): %v\n", corrID, line, err)
			continue
		}
		fmt.Printf("order %d account=%d amount=%d kind=%s -> %s\n",
			corrID, order.AccountID, order.Amount, order.Kind, status)
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("error reading orders file: %v\n", err)
	}
}

// parseOrder reads one "account_id amount kind" line.
func parseOrder(line string) (wire.ClientRequest, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return wire.ClientRequest{}, fmt.Errorf("expected 'account_id amount kind'")
	}
	accountID, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return wire.ClientRequest{}, err
	}
	amount, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return wire.ClientRequest{}, err
	}
	var kind wire.Kind
	switch strings.ToLower(fields[2]) {
	case "add", "credit", "+":
		kind = wire.Add
	case "sub", "debit", "-":
		kind = wire.Sub
	default:
		return wire.ClientRequest{}, fmt.Errorf("unknown kind %q", fields[2])
	}
	return wire.ClientRequest{AccountID: accountID, Amount: amount, Kind: kind}, nil
}

func submit(conn *net.UDPConn, req wire.ClientRequest) (wire.ClientStatus, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire.Envelope{Request: req}); err != nil {
		return 0, err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	conn.SetReadDeadline(time.Now().Add(configurations.TClient + time.Second))
	reply := make([]byte, 512)
	n, err := conn.Read(reply)
	if err != nil {
		return 0, fmt.Errorf("no reply: %w", err)
	}
	var rep wire.ClientReply
	if err := gob.NewDecoder(bytes.NewReader(reply[:n])).Decode(&rep); err != nil {
		return 0, err
	}
	return rep.Status, nil
}
