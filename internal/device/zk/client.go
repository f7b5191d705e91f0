package zk

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"sentrygate/internal/device"
	"sentrygate/internal/model"
)

// Dialer opens TCP sessions against one terminal.
type Dialer struct {
	Host    string
	Port    int
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dial connects and performs the protocol handshake.
func (d *Dialer) Dial(ctx context.Context) (device.Session, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port))
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	s := &session{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
		replies: make(chan packet, 16),
		events:  make(chan model.AuthAttempt, 32),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, cmdConnect, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect handshake: %w", err)
	}
	if resp.Command == cmdAckUnauth {
		conn.Close()
		return nil, fmt.Errorf("terminal %s requires a comm key", addr)
	}
	if resp.Command != cmdAckOK {
		conn.Close()
		return nil, fmt.Errorf("connect handshake: unexpected reply %d", resp.Command)
	}
	s.sessionID = resp.SessionID

	return s, nil
}

// session is a live terminal connection. A single reader goroutine owns the
// socket's read side and routes frames: realtime pushes go to the events
// channel, everything else to the pending exchange.
type session struct {
	conn    net.Conn
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex // one request/response exchange at a time
	wmu       sync.Mutex // socket writes (exchanges and event acks)
	sessionID uint16
	replyID   uint16

	replies chan packet
	events  chan model.AuthAttempt

	liveMu sync.Mutex
	live   bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) readLoop() {
	for {
		pkt, err := readPacket(s.conn)
		if err != nil {
			s.liveMu.Lock()
			if s.live {
				close(s.events)
				s.live = false
			}
			s.liveMu.Unlock()
			close(s.replies)
			return
		}

		if pkt.Command == cmdRegEvent {
			s.handlePush(pkt)
			continue
		}

		select {
		case s.replies <- pkt:
		case <-s.done:
			return
		}
	}
}

// handlePush acks a realtime frame and forwards the decoded attempt when the
// feed is active. A full events buffer drops the attempt rather than stalling
// the socket.
func (s *session) handlePush(pkt packet) {
	s.writePacket(packet{Command: cmdAckOK, SessionID: s.sessionID, ReplyID: pkt.ReplyID})

	attempt, err := parseLiveEvent(pkt.Data)
	if err != nil {
		s.logger.Warn("dropping malformed realtime event", "error", err)
		return
	}

	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if !s.live {
		return
	}
	select {
	case s.events <- attempt:
	default:
		s.logger.Warn("realtime event buffer full, dropping attempt", "user_id", attempt.UserID)
	}
}

func (s *session) writePacket(p packet) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	_, err := s.conn.Write(encodePacket(p))
	return err
}

// exchange sends one request and waits for its reply. Callers hold s.mu.
func (s *session) exchange(ctx context.Context, cmd uint16, data []byte) (packet, error) {
	s.replyID++
	req := packet{Command: cmd, SessionID: s.sessionID, ReplyID: s.replyID, Data: data}
	if err := s.writePacket(req); err != nil {
		return packet{}, fmt.Errorf("sending command %d: %w", cmd, err)
	}
	return s.nextReply(ctx)
}

// nextReply waits for the next routed frame of the current exchange.
func (s *session) nextReply(ctx context.Context) (packet, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case pkt, ok := <-s.replies:
		if !ok {
			return packet{}, fmt.Errorf("session closed")
		}
		return pkt, nil
	case <-timer.C:
		return packet{}, fmt.Errorf("timed out waiting for terminal reply")
	case <-ctx.Done():
		return packet{}, ctx.Err()
	}
}

func ackErr(pkt packet) error {
	switch pkt.Command {
	case cmdAckOK, cmdAckData:
		return nil
	case cmdAckUnauth:
		return fmt.Errorf("terminal refused command: unauthorized")
	default:
		return fmt.Errorf("terminal refused command: reply %d", pkt.Command)
	}
}

// readCatalog runs a bulk read of one record catalog. Small results come back
// inline; larger ones arrive as a prepare frame followed by data chunks.
func (s *session) readCatalog(ctx context.Context, fct byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	param := make([]byte, 11)
	param[0] = 0x01
	param[1] = fct

	resp, err := s.exchange(ctx, cmdDataWrrq, param)
	if err != nil {
		return nil, err
	}

	switch resp.Command {
	case cmdAckData:
		return resp.Data, nil
	case cmdPrepareData:
		if len(resp.Data) < 4 {
			return nil, fmt.Errorf("short prepare frame: %d bytes", len(resp.Data))
		}
		size := binary.LittleEndian.Uint32(resp.Data[0:4])
		if size > maxPacketSize*16 {
			return nil, fmt.Errorf("bulk read size %d too large", size)
		}

		buf := make([]byte, 0, size)
		for uint32(len(buf)) < size {
			pkt, err := s.nextReply(ctx)
			if err != nil {
				return nil, err
			}
			if pkt.Command != cmdData {
				return nil, fmt.Errorf("unexpected frame %d during bulk read", pkt.Command)
			}
			buf = append(buf, pkt.Data...)
		}

		if _, err := s.exchange(ctx, cmdFreeData, nil); err != nil {
			s.logger.Warn("freeing bulk read buffer failed", "error", err)
		}
		return buf, nil
	default:
		return nil, ackErr(resp)
	}
}

// Users fetches the roster.
func (s *session) Users(ctx context.Context) ([]model.User, error) {
	data, err := s.readCatalog(ctx, fctUser)
	if err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	return parseUsers(data)
}

// AttendanceLog fetches the authentication log, newest entries first.
func (s *session) AttendanceLog(ctx context.Context) ([]model.AttendanceRecord, error) {
	data, err := s.readCatalog(ctx, fctAttendance)
	if err != nil {
		return nil, fmt.Errorf("reading attendance log: %w", err)
	}
	records, err := parseAttendance(data)
	if err != nil {
		return nil, err
	}
	// The terminal appends in chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Clock returns the terminal's wall-clock time.
func (s *session) Clock(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, cmdGetTime, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading terminal clock: %w", err)
	}
	if err := ackErr(resp); err != nil {
		return time.Time{}, err
	}
	if len(resp.Data) < 4 {
		return time.Time{}, fmt.Errorf("short clock reply: %d bytes", len(resp.Data))
	}
	return decodeTime(binary.LittleEndian.Uint32(resp.Data[0:4])), nil
}

// Unlock releases the door strike. The wire unit is tenths of a second.
func (s *session) Unlock(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(d.Seconds()*10))
	resp, err := s.exchange(ctx, cmdUnlock, data)
	if err != nil {
		return fmt.Errorf("unlocking door: %w", err)
	}
	return ackErr(resp)
}

// PlayDeniedTone plays the indexed feedback tone.
func (s *session) PlayDeniedTone(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(index))
	resp, err := s.exchange(ctx, cmdTestVoice, data)
	if err != nil {
		return fmt.Errorf("playing tone %d: %w", index, err)
	}
	return ackErr(resp)
}

// LiveEvents registers for realtime authentication pushes.
func (s *session) LiveEvents(ctx context.Context) (<-chan model.AuthAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, efAttLog)
	resp, err := s.exchange(ctx, cmdRegEvent, data)
	if err != nil {
		return nil, fmt.Errorf("registering for realtime events: %w", err)
	}
	if err := ackErr(resp); err != nil {
		return nil, err
	}

	s.liveMu.Lock()
	s.live = true
	s.liveMu.Unlock()
	return s.events, nil
}

// Close sends a best-effort disconnect and tears down the socket.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.writePacket(packet{Command: cmdExit, SessionID: s.sessionID, ReplyID: s.replyID + 1})
		close(s.done)
		s.conn.Close()
	})
	return nil
}
