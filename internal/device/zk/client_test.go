package zk

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTerminal speaks the wire protocol over a real socket so the client is
// exercised end to end.
type fakeTerminal struct {
	ln    net.Listener
	clock time.Time
	users []byte
	att   []byte

	mu      sync.Mutex
	unlocks []uint32
	tones   []uint32
}

func startFakeTerminal(t *testing.T) *fakeTerminal {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ft := &fakeTerminal{
		ln:    ln,
		clock: time.Date(2026, 5, 6, 12, 0, 0, 0, time.Local),
	}
	go ft.serve()
	return ft
}

func (ft *fakeTerminal) dialer() *Dialer {
	addr := ft.ln.Addr().(*net.TCPAddr)
	return &Dialer{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second}
}

func (ft *fakeTerminal) recorded() (unlocks, tones []uint32) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]uint32(nil), ft.unlocks...), append([]uint32(nil), ft.tones...)
}

func (ft *fakeTerminal) serve() {
	conn, err := ft.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	const sid = 7
	reply := func(cmd, replyID uint16, data []byte) {
		conn.Write(encodePacket(packet{Command: cmd, SessionID: sid, ReplyID: replyID, Data: data}))
	}

	for {
		pkt, err := readPacket(conn)
		if err != nil {
			return
		}

		switch pkt.Command {
		case cmdConnect:
			reply(cmdAckOK, pkt.ReplyID, nil)
		case cmdExit:
			return
		case cmdGetTime:
			data := make([]byte, 4)
			binary.LittleEndian.PutUint32(data, encodeTime(ft.clock))
			reply(cmdAckOK, pkt.ReplyID, data)
		case cmdUnlock:
			ft.mu.Lock()
			ft.unlocks = append(ft.unlocks, binary.LittleEndian.Uint32(pkt.Data))
			ft.mu.Unlock()
			reply(cmdAckOK, pkt.ReplyID, nil)
		case cmdTestVoice:
			ft.mu.Lock()
			ft.tones = append(ft.tones, binary.LittleEndian.Uint32(pkt.Data))
			ft.mu.Unlock()
			reply(cmdAckOK, pkt.ReplyID, nil)
		case cmdDataWrrq:
			if pkt.Data[1] == fctUser {
				// Small catalog, delivered inline.
				reply(cmdAckData, pkt.ReplyID, ft.users)
				continue
			}
			// Larger catalog, delivered as prepare plus chunks.
			size := make([]byte, 4)
			binary.LittleEndian.PutUint32(size, uint32(len(ft.att)))
			reply(cmdPrepareData, pkt.ReplyID, size)
			half := len(ft.att) / 2
			reply(cmdData, pkt.ReplyID, ft.att[:half])
			reply(cmdData, pkt.ReplyID, ft.att[half:])
		case cmdFreeData:
			reply(cmdAckOK, pkt.ReplyID, nil)
		case cmdRegEvent:
			reply(cmdAckOK, pkt.ReplyID, nil)
			push := make([]byte, liveEventSize)
			copy(push[0:24], "55")
			copy(push[26:32], []byte{26, 5, 6, 12, 30, 0})
			conn.Write(encodePacket(packet{Command: cmdRegEvent, SessionID: sid, Data: push}))
		case cmdAckOK:
			// Client ack for a realtime push.
		default:
			reply(cmdAckError, pkt.ReplyID, nil)
		}
	}
}

func TestClientClockUnlockAndTone(t *testing.T) {
	ft := startFakeTerminal(t)
	ctx := context.Background()

	sess, err := ft.dialer().Dial(ctx)
	require.NoError(t, err)
	defer sess.Close()

	clock, err := sess.Clock(ctx)
	require.NoError(t, err)
	assert.True(t, clock.Equal(ft.clock))

	require.NoError(t, sess.Unlock(ctx, 5*time.Second))
	require.NoError(t, sess.PlayDeniedTone(ctx, 2))

	unlocks, tones := ft.recorded()
	assert.Equal(t, []uint32{50}, unlocks, "unlock wire unit is tenths of a second")
	assert.Equal(t, []uint32{2}, tones)
}

func TestClientBulkReads(t *testing.T) {
	ft := startFakeTerminal(t)
	ft.users = append(
		makeUserRecord(1, 14, "1234", "alice", "1"),
		makeUserRecord(2, 0, "", "bob", "2")...,
	)
	older := time.Date(2026, 5, 6, 8, 0, 0, 0, time.Local)
	newer := time.Date(2026, 5, 6, 9, 0, 0, 0, time.Local)
	ft.att = append(
		makeAttendanceRecord("1", older),
		makeAttendanceRecord("2", newer)...,
	)

	ctx := context.Background()
	sess, err := ft.dialer().Dial(ctx)
	require.NoError(t, err)
	defer sess.Close()

	users, err := sess.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)

	records, err := sess.AttendanceLog(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].UserID, "newest record first")
	assert.True(t, records[0].Timestamp.Equal(newer))
}

func TestClientLiveEvents(t *testing.T) {
	ft := startFakeTerminal(t)
	ctx := context.Background()

	sess, err := ft.dialer().Dial(ctx)
	require.NoError(t, err)
	defer sess.Close()

	events, err := sess.LiveEvents(ctx)
	require.NoError(t, err)

	select {
	case attempt := <-events:
		assert.Equal(t, "55", attempt.UserID)
		assert.True(t, attempt.Timestamp.Equal(time.Date(2026, 5, 6, 12, 30, 0, 0, time.Local)))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime event")
	}
}

func TestClientDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	d := &Dialer{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second}
	_, err = d.Dial(context.Background())
	assert.Error(t, err)
}
