// Package transport is the plant-link: a minimal TCP framing layer that
// decodes inbound sensor/ack frames into a message.Mailbox once per cycle
// and frames outbound messages back out over the same connection. It is
// explicitly an external collaborator (spec.md §1: "the transport that
// delivers messages... contracts only") -- the controller never imports
// this package. A line is sliced on "/" for its topic, and the payload is
// the first "{...}" found in the line, decoded as JSON.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zakarynichols/steamboiler/internal/message"
)

// CycleFunc runs one controller cycle given this tick's accumulated inbound
// batch, and returns the outbound batch to frame back to the plant.
type CycleFunc func(in *message.Mailbox) []message.Message

// Server is the plant-link for one boiler (spec.md §1 Non-goals: no
// multi-boiler concurrency) and drives CycleFunc every time a TICK frame
// arrives. Every accepted connection is handled on its own goroutine, and
// all of them feed the same pending batch.
type Server struct {
	addr    string
	onCycle CycleFunc
	log     *logrus.Entry

	mu      sync.Mutex
	pending []message.Message
}

func NewServer(addr string, onCycle CycleFunc) *Server {
	return &Server{
		addr:    addr,
		onCycle: onCycle,
		log:     logrus.WithField("component", "transport"),
	}
}

// Serve listens and handles plant connections until ln is closed. It
// accepts sequentially and hands each connection to its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.log.WithField("addr", s.addr).Info("plant-link listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("transport: accept: %w", err)
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.New()
	log := s.log.WithField("session_id", sessionID)
	log.Info("plant connected")

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "/") {
			continue
		}

		parts := strings.SplitN(line, "/", 3)
		if len(parts) < 2 {
			continue
		}
		topic := parts[0]

		if topic == "TICK" {
			s.runCycle(writer, log)
			continue
		}

		msg, ok := decodeFrame(topic, line)
		if !ok {
			log.WithField("line", line).Warn("dropping malformed plant-link frame")
			continue
		}

		s.mu.Lock()
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
	}
}

func (s *Server) runCycle(writer *bufio.Writer, log *logrus.Entry) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	out := s.onCycle(message.NewMailbox(batch))
	for _, m := range out {
		line, err := encodeFrame(m)
		if err != nil {
			log.WithError(err).Warn("failed to encode outbound frame")
			continue
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			log.WithError(err).Warn("failed to write outbound frame")
			return
		}
	}
	if err := writer.Flush(); err != nil {
		log.WithError(err).Warn("failed to flush outbound frames")
	}
}

// decodeFrame parses "<KIND>/<unit>/{json}" by slicing on "/" and
// locating the payload by its first "{". unit is -1 and the json
// payload optional for kind-only frames.
func decodeFrame(kind, line string) (message.Message, bool) {
	payloadStart := strings.Index(line, "{")
	unit := -1

	rest := line
	if payloadStart != -1 {
		rest = line[:payloadStart]
	}
	fields := strings.Split(rest, "/")
	if len(fields) >= 2 {
		if u, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
			unit = u
		}
	}

	k, ok := kindFromString(kind)
	if !ok {
		return message.Message{}, false
	}

	m := message.Message{Kind: k, Unit: unit}
	if payloadStart != -1 {
		var body struct {
			Value float64 `json:"value"`
			On    bool    `json:"on"`
		}
		if err := json.Unmarshal([]byte(line[payloadStart:]), &body); err != nil {
			return message.Message{}, false
		}
		m.Double = body.Value
		m.Bool = body.On
	}
	return m, true
}

func encodeFrame(m message.Message) (string, error) {
	body, err := json.Marshal(struct {
		Value float64 `json:"value"`
		On    bool    `json:"on"`
		Mode  string  `json:"mode,omitempty"`
	}{Value: m.Double, On: m.Bool, Mode: m.Mode.String()})
	if err != nil {
		return "", err
	}
	if m.Unit >= 0 {
		return fmt.Sprintf("%s/%d/%s", m.Kind, m.Unit, body), nil
	}
	return fmt.Sprintf("%s/%s", m.Kind, body), nil
}

var kindNames = map[string]message.Kind{
	"STEAM_BOILER_WAITING":          message.KindSteamBoilerWaiting,
	"PHYSICAL_UNITS_READY":          message.KindPhysicalUnitsReady,
	"LEVEL_v":                       message.KindLevel,
	"STEAM_v":                       message.KindSteam,
	"PUMP_STATE_n_b":                message.KindPumpState,
	"PUMP_CONTROL_STATE_n_b":        message.KindPumpControlState,
	"LEVEL_FAILURE_ACKNOWLEDGEMENT": message.KindLevelFailureAcknowledgement,
	"LEVEL_REPAIRED":                message.KindLevelRepaired,
	"STEAM_OUTCOME_FAILURE_ACKNOWLEDGEMENT": message.KindSteamOutcomeFailureAcknowledgement,
	"STEAM_REPAIRED":                        message.KindSteamRepaired,
	"PUMP_FAILURE_ACKNOWLEDGEMENT_n":         message.KindPumpFailureAcknowledgement,
	"PUMP_REPAIRED_n":                        message.KindPumpRepaired,
	"PUMP_CONTROL_FAILURE_ACKNOWLEDGEMENT_n": message.KindPumpControlFailureAcknowledgement,
	"PUMP_CONTROL_REPAIRED_n":                message.KindPumpControlRepaired,
}

func kindFromString(s string) (message.Kind, bool) {
	k, ok := kindNames[s]
	return k, ok
}
